// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SizeSuffix is a byte size that parses and prints human suffixes,
// e.g. "4M" for 4 MiB. Suffixes are binary multiples.
type SizeSuffix int64

const (
	Byte SizeSuffix = 1 << (10 * iota)
	KiByte
	MiByte
	GiByte
)

func (x SizeSuffix) String() string {
	switch {
	case x < 0:
		return "off"
	case x == 0:
		return "0"
	case x%GiByte == 0:
		return strconv.FormatInt(int64(x/GiByte), 10) + "G"
	case x%MiByte == 0:
		return strconv.FormatInt(int64(x/MiByte), 10) + "M"
	case x%KiByte == 0:
		return strconv.FormatInt(int64(x/KiByte), 10) + "k"
	default:
		return strconv.FormatInt(int64(x), 10)
	}
}

func (x *SizeSuffix) Set(s string) error {
	if s == "" {
		return fmt.Errorf("empty size")
	}

	mult := SizeSuffix(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult, s = KiByte, s[:len(s)-1]
	case 'm', 'M':
		mult, s = MiByte, s[:len(s)-1]
	case 'g', 'G':
		mult, s = GiByte, s[:len(s)-1]
	case 'b', 'B':
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q", s)
	}
	if v < 0 {
		return fmt.Errorf("size cannot be negative")
	}

	*x = SizeSuffix(v) * mult
	return nil
}

func (x SizeSuffix) Type() string {
	return "size"
}

const minMasterKeySize = 16

// ParseMasterKey decodes a hex-encoded master key.
// Keys shorter than 16 bytes are rejected.
func ParseMasterKey(val string) ([]byte, error) {
	if val == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(strings.TrimSpace(val))
	if err != nil {
		return nil, fmt.Errorf("master key must be hex encoded")
	}
	if len(key) < minMasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes", minMasterKeySize)
	}

	return key, nil
}

// ReadMasterKeyFile reads and parses a hex-encoded master key from a file.
func ReadMasterKeyFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	key, err := ParseMasterKey(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// OpenFileParser returns a parser that calls os.OpenFile.
// If dirPerm is set it will create the directory if it does not exist.
// For empty path the parser returns nil file and nil error.
func OpenFileParser(flag int, perm, dirPerm os.FileMode) func(val string) (*os.File, error) {
	return func(val string) (*os.File, error) {
		if val == "" {
			return nil, nil
		}

		if dirPerm != 0 {
			dir := filepath.Dir(val)
			if err := os.MkdirAll(dir, dirPerm); err != nil {
				return nil, err
			}
		}
		return os.OpenFile(val, flag, perm)
	}
}
