/*
 * Copyright (c) 2024 shenjunzheng@gmail.com
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

package bin

/* Binary Database Format
	+--------------------------------+
	|         Fixed Header (64b)     |
	+--------------------------------+
	|      IPv4 Index Block (512K)   |
	+--------------------------------+
	|      IPv6 Index Block (512K)   |   only present when v6_count > 0
	+--------------------------------+
	|        IPv4 Record Table       |
	+--------------------------------+
	|        IPv6 Record Table       |   only present when v6_count > 0
	+--------------------------------+
	|          String Pool           |
	+--------------------------------+

* All multi-byte integers are stored in Little Endian
* All "position" fields in the header are 1-based byte offsets from file start
* String fields are length-prefixed: 1 length byte followed by that many UTF-8 bytes

Fixed Header (64 bytes, first 35 used)
	+--------+--------+--------------------------+
	| Sub.(1)| Cnt.(1)|      Y/M/D (3byte)       |
	+--------+--------+--------------------------+
	|      V4 Count (4)      |   V4 Base (4)      |
	+--------+--------+--------------------------+
	|      V6 Count (4)      |   V6 Base (4)      |
	+--------+--------+--------------------------+
	|     V4 Index Start (4) | V6 Index Start (4) |
	+--------+--------+--------------------------+
	| Fam.(1)| Lic.(1)|      Total Size (4)      |
	+--------+--------+--------------------------+
* Subtype is the DBn / PXn variant number
* Family is 1 for IP2Location, 2 for IP2Proxy
* Year/Month/Day is the build date; year is an offset from 2000

Index Block (512 KiB = 65536 buckets x 8 bytes)
	+--------------------------------+--------------------------------+
	|     Row Range Low (4byte)      |      Row Range High (4byte)    |
	+--------------------------------+--------------------------------+
* Bucket selector is the address's high 16 bits (v4: bits 31-16, v6: first two bytes)
* high == 0 means the bucket has no matching rows

Record Table (one row per entry, rows sorted ascending by ip_from)
	+--------------------------------+--------------------------------+
	|      ip_from (4 or 16 byte)    |   field slot 1 (4byte) ...      |
	+--------------------------------+--------------------------------+
* ip_to for a row is ip_from of the next row, or ip_from+1 for the last row
* each field slot is either a little-endian u32 string-pool offset or an
  IEEE-754 float32, depending on the schema's field kind at that position

String Pool
	+--------+--------------------------+
	| Len(1) |     UTF-8 bytes (n)       |
	+--------+--------------------------+
*/
