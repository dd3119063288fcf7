/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorBasic(t *testing.T) {
	err := JackNotFound("in:0")

	if err.Code != ErrCodeJackNotFound {
		t.Errorf("expected code %d, got %d", ErrCodeJackNotFound, err.Code)
	}
	if err.Category != CategoryJack {
		t.Errorf("expected category %s, got %s", CategoryJack, err.Category)
	}
	if !strings.Contains(err.Error(), "in:0") {
		t.Errorf("expected error message to contain 'in:0', got: %s", err.Error())
	}
}

func TestErrorWithDetail(t *testing.T) {
	err := Decode("bad payload", nil).WithDetail("tag 0x09 unknown")

	if err.Detail != "tag 0x09 unknown" {
		t.Errorf("expected detail to be set, got: %s", err.Detail)
	}
	if !strings.Contains(err.Error(), "tag 0x09 unknown") {
		t.Errorf("expected error to contain detail, got: %s", err.Error())
	}
}

func TestErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := Compression("snappy decode failed", nil).WithCause(cause)

	if err.Unwrap() != cause {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestDecodeConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		code     Code
		category Category
	}{
		{"BadMagic", BadMagic(0xAB), ErrCodeBadMagic, CategoryDecode},
		{"BadVersion", BadVersion(0x02), ErrCodeBadVersion, CategoryDecode},
		{"Truncated", Truncated(10, 4), ErrCodeTruncated, CategoryDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %d, got %d", tt.code, tt.err.Code)
			}
			if tt.err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, tt.err.Category)
			}
		})
	}
}

func TestTransportConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code Code
	}{
		{"BindFailed", BindFailed("239.10.10.10:7000", errors.New("eaddrinuse")), ErrCodeBindFailed},
		{"JoinFailed", JoinFailed("239.10.10.10", errors.New("no such device")), ErrCodeJoinFailed},
		{"ShapeMismatch", ShapeMismatch("1x128", "1x64"), ErrCodeShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %d, got %d", tt.code, tt.err.Code)
			}
			if tt.err.Category != CategoryTransport {
				t.Errorf("expected transport category, got %s", tt.err.Category)
			}
		})
	}
}

func TestIsCategory(t *testing.T) {
	jackErr := JackNotFound("out:2")
	coordErr := NotLeader("node-3")

	if !Is(jackErr, CategoryJack) {
		t.Error("expected Is to return true for matching category")
	}
	if Is(jackErr, CategoryCoordinator) {
		t.Error("expected Is to return false for non-matching category")
	}
	if !Is(coordErr, CategoryCoordinator) {
		t.Error("expected Is to return true for coordinator category")
	}
}

func TestGetCode(t *testing.T) {
	err := GatherTimeout(1, 3)
	if GetCode(err) != ErrCodeGatherTimeout {
		t.Errorf("expected code %d, got %d", ErrCodeGatherTimeout, GetCode(err))
	}

	regularErr := errors.New("regular error")
	if GetCode(regularErr) != 0 {
		t.Errorf("expected code 0 for regular error, got %d", GetCode(regularErr))
	}
}

func TestConfigConstructors(t *testing.T) {
	portErr := InvalidPort("control_port", 70000)
	if portErr.Code != ErrCodeInvalidPort {
		t.Errorf("expected code %d, got %d", ErrCodeInvalidPort, portErr.Code)
	}

	rateErr := InvalidRate(44100, 7)
	if rateErr.Code != ErrCodeInvalidRate {
		t.Errorf("expected code %d, got %d", ErrCodeInvalidRate, rateErr.Code)
	}

	missingErr := MissingField("node_id")
	if !strings.Contains(missingErr.Error(), "node_id") {
		t.Errorf("expected message to mention field name, got: %s", missingErr.Error())
	}
}
