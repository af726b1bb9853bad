// Package codec serializes values and tuples to byte strings whose
// lexicographic order equals the ir value order.
//
// Layout of the key space:
//
//	0x01 <escaped name> 0x00 0x01                  catalog entry -> JSON schema
//	0x10 <escaped name> 0x00 0x01 <key columns>    tuple -> non-key columns
//
// Every value encoding is self-delimiting: a kind tag followed by a
// length-prefixed varint (int), 8 order-preserving bytes (float), escaped
// and terminated bytes (string, bytes) or element encodings closed by 0x00
// (list). Concatenated encodings therefore compare column by column.
//
// This layout is a compatibility surface: stored data must remain readable
// across versions.
package codec
