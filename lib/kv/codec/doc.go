/*
Package codec converts typed keys and values into the byte buffers exchanged
with the storage engine.

A Codec encodes and decodes one Go type. The built-in codecs use a compact
little endian layout: fixed-width numbers, bool as a single 0/1 byte, strings
and byte slices as a u64 length followed by the bytes, slices as a u64 count
followed by the elements and sets as a u64 count followed by the sorted
elements. Arbitrary types can use the Gob or JSON codecs.

A Value additionally knows how to merge a modification into a current value,
which is what read-modify-write operations need:

	counter := codec.Add(codec.Uint64())
	tags := codec.Union(codec.String())
	custom := codec.WithMerge(codec.JSON[Profile](), mergeProfile)

Encoding is deterministic. Decoding rejects malformed input, including
trailing bytes, with an *Error of kind KindDeserialization.
*/
package codec
