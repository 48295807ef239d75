// Copyright © 2020 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rpmtest builds the smallest byte stream go-rpmutils will accept
// as a real RPM, for tests that need rpmhead.Read to actually succeed
// instead of stubbing it out with placeholder bytes.
package rpmtest

import (
	"bytes"
	"encoding/binary"
)

// RPM tag numbers, stable since RPM 4.x (rpmtag.h).
const (
	tagName    = 1000
	tagVersion = 1001
	tagRelease = 1002
	tagArch    = 1022
)

// RPM header value type codes (rpmtypes.h).
const typeString = 6

// leadMagic and headerMagic are fixed per the RPM file format: a 96-byte
// lead identifies the file as an RPM, followed by a signature header and a
// main header, both sharing the same 8-byte header magic + 4 reserved
// bytes.
var (
	leadMagic   = [4]byte{0xed, 0xab, 0xee, 0xdb}
	headerMagic = [8]byte{0x8e, 0xad, 0xe8, 0x01, 0x00, 0x00, 0x00, 0x00}
)

// Build returns a minimal but structurally valid RPM: a lead, an empty
// signature header, and a main header carrying just name/version/release/
// arch - enough for rpmhead.Read to decode the NEVRA fields tests need
// without a real payload.
func Build(name, version, release, arch string) []byte {
	var out bytes.Buffer
	out.Write(lead(name, version, release))
	out.Write(emptyHeader())
	out.Write(header([]tag{
		{tagName, name},
		{tagVersion, version},
		{tagRelease, release},
		{tagArch, arch},
	}))
	return out.Bytes()
}

func lead(name, version, release string) []byte {
	var b bytes.Buffer
	b.Write(leadMagic[:])
	b.WriteByte(3)      // major
	b.WriteByte(0)      // minor
	writeUint16(&b, 0)  // binary package
	writeUint16(&b, 1)  // archnum

	nvr := make([]byte, 66)
	copy(nvr, name+"-"+version+"-"+release)
	b.Write(nvr)

	writeUint16(&b, 1)        // osnum
	writeUint16(&b, 5)        // signature_type: header-style signature
	b.Write(make([]byte, 16)) // reserved

	return b.Bytes()
}

// emptyHeader is a zero-entry header: a valid, minimal signature section.
func emptyHeader() []byte {
	var b bytes.Buffer
	b.Write(headerMagic[:])
	writeUint32(&b, 0) // nindex
	writeUint32(&b, 0) // hsize
	return b.Bytes()
}

type tag struct {
	num   int32
	value string
}

func header(tags []tag) []byte {
	var store bytes.Buffer
	var entries bytes.Buffer
	for _, t := range tags {
		offset := int32(store.Len())
		store.WriteString(t.value)
		store.WriteByte(0) // NUL-terminate the STRING value

		writeUint32(&entries, uint32(t.num))
		writeUint32(&entries, uint32(typeString))
		writeUint32(&entries, uint32(offset))
		writeUint32(&entries, 1) // count
	}

	var b bytes.Buffer
	b.Write(headerMagic[:])
	writeUint32(&b, uint32(len(tags)))
	writeUint32(&b, uint32(store.Len()))
	b.Write(entries.Bytes())
	b.Write(store.Bytes())
	return b.Bytes()
}

func writeUint16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func writeUint32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}
