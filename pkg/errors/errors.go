/*
 * Copyright (c) 2023 shenjunzheng@gmail.com
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
)

var (
	// Format

	ErrUnsupportedIPVersion = errors.New("unsupported IP version")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrInvalidDatabase      = errors.New("invalid database")
	ErrInvalidFormat        = errors.New("invalid format")
	ErrFieldInvalid         = errors.New("invalid field specified")

	// Command

	ErrFileNotFound = errors.New("file not found")

	// Server

	ErrInvalidIP = errors.New("invalid IP address")

	// Binary header (open-time, database unusable)

	ErrInvalidTypeTag     = errors.New("invalid database type tag")
	ErrInvalidSubtype     = errors.New("invalid database subtype")
	ErrInvalidDate        = errors.New("invalid build date")
	ErrFieldCountMismatch = errors.New("record field count does not match schema")
	ErrLayoutMismatch     = errors.New("header layout arithmetic mismatch")
	ErrTotalSizeTooSmall  = errors.New("declared total size is too small")
	ErrLegacyFormat       = errors.New("legacy database format is not supported")

	// Binary query (lookup-time, database remains usable)

	ErrInvalidUTF8     = errors.New("string field is not valid utf-8")
	ErrShortRead       = errors.New("short read while resolving field content")
	ErrMaxDepthReached = errors.New("binary search exceeded maximum depth")

	// Programming errors

	ErrUnsupportedFamily = errors.New("record searcher family does not match address family")
)
