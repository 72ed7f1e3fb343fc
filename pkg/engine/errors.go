// Copyright 2021 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"fmt"

	"emperror.dev/errors"
)

// Category suggests how a caller should respond to a business error.
type Category string

const (
	CategoryNotFound      Category = "not_found"
	CategoryDenied        Category = "denied"
	CategoryInvalid       Category = "invalid"
	CategoryConflict      Category = "conflict"
	CategoryConfiguration Category = "configuration"
)

// Code is the stable identifier of a business error.
type Code string

const (
	CodeTransferNotFound     Code = "transfer-not-found"
	CodeNoAccess             Code = "no-access"
	CodeNotConfigured        Code = "not-configured"
	CodeNotYetUploaded       Code = "not-yet-uploaded"
	CodeAlreadyUploaded      Code = "already-uploaded"
	CodeTransferNotAvailable Code = "transfer-not-available"
	CodeChecksumMismatch     Code = "checksum-mismatch"
	CodeNotPublished         Code = "not-published-yet"
	CodeAlreadyConfirmed     Code = "already-confirmed"
	CodeUploadFailed         Code = "upload-failed"
	CodeInvalidRequest       Code = "invalid-request"
)

// BusinessError is an expected condition returned as a value. Two business
// errors match under errors.Is when their codes are equal, so callers
// compare against the canonical Err* values below.
type BusinessError struct {
	Code     Code
	Category Category
	Message  string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Is(target error) bool {
	var t *BusinessError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrTransferNotFound     = &BusinessError{CodeTransferNotFound, CategoryNotFound, "transfer does not exist"}
	ErrNoAccess             = &BusinessError{CodeNoAccess, CategoryDenied, "caller is not allowed to act on this transfer"}
	ErrNotConfigured        = &BusinessError{CodeNotConfigured, CategoryConfiguration, "resource or service owner is not configured for transfers"}
	ErrNotYetUploaded       = &BusinessError{CodeNotYetUploaded, CategoryConflict, "transfer content has not been uploaded"}
	ErrAlreadyUploaded      = &BusinessError{CodeAlreadyUploaded, CategoryConflict, "transfer content was already uploaded"}
	ErrTransferNotAvailable = &BusinessError{CodeTransferNotAvailable, CategoryConflict, "transfer is no longer available"}
	ErrChecksumMismatch     = &BusinessError{CodeChecksumMismatch, CategoryInvalid, "uploaded content does not match the declared checksum"}
	ErrNotPublished         = &BusinessError{CodeNotPublished, CategoryConflict, "transfer is not published yet"}
	// ErrAlreadyConfirmed is part of the error catalogue for API clients.
	// ConfirmDownload itself treats a repeated confirmation as success and
	// never returns it.
	ErrAlreadyConfirmed = &BusinessError{CodeAlreadyConfirmed, CategoryConflict, "download was already confirmed"}
	ErrUploadFailed     = &BusinessError{CodeUploadFailed, CategoryConflict, "upload could not be completed"}
	ErrInvalidRequest   = &BusinessError{CodeInvalidRequest, CategoryInvalid, "request is invalid"}
)

// invalidRequest builds an invalid-request error with a specific message.
func invalidRequest(format string, args ...interface{}) *BusinessError {
	return &BusinessError{CodeInvalidRequest, CategoryInvalid, fmt.Sprintf(format, args...)}
}

// IsBusiness reports whether err is an expected business condition rather
// than a fault.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}
