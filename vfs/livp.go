package vfs

import (
	"archive/zip"
	"bytes"
	"context"
	"hash/crc32"
	"sort"

	"aliyundrive-webdav/aliyundrive"
)

// assembleLivp streams each (name, stream_url) pair in streamsURL into an
// in-memory ZIP using the Stored (no compression) method for the read
// path's .livp reassembly, and returns the complete archive bytes. Members
// are written raw with their CRC and sizes in the local header and no data
// descriptor, so the archive is exactly as long as the size the Drive
// client computes for the entry from the stream sizes. Entries
// are written in a stable (sorted by key) order so repeated reads of the
// same file produce byte-identical output.
func assembleLivp(ctx context.Context, client *aliyundrive.Client, entryName string, streamsURL map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(streamsURL))
	for k := range streamsURL {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, k := range keys {
		content, err := client.Download(ctx, streamsURL[k], 0, 0)
		if err != nil {
			return nil, err
		}
		w, err := zw.CreateRaw(&zip.FileHeader{
			Name:               aliyundrive.LivpMemberName(entryName, k),
			Method:             zip.Store,
			CRC32:              crc32.ChecksumIEEE(content),
			CompressedSize64:   uint64(len(content)),
			UncompressedSize64: uint64(len(content)),
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(content); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
