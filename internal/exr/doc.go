/*
Package exr reads and writes the parts of OpenEXR files that the channel
cache needs: single-part and multi-part containers, scanline chunks
compressed with NONE, RLE, ZIPS or ZIP, and subsampled channels.

Tiled and deep parts are parsed so that their headers can be inspected,
but reading their pixels fails with a FORMAT_UNSUPPORTED error.

Files that are still being written are tolerated: chunks whose offset is
missing or points past the end of the file fail with INPUT_PARTIAL while
every other requested row is still decoded. With ReconstructOffsets the
offset tables are rebuilt from the chunks themselves.
*/
package exr
