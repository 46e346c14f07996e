package aliyundrive

import "strings"

// LivpMemberName derives the archive member name the assembled .livp ZIP
// uses for a given stream key: the entry's base name with its .livp
// extension replaced by the stream's own extension, e.g. "photo.livp" +
// "heic" -> "photo.heic".
func LivpMemberName(entryName, streamKey string) string {
	base := strings.TrimSuffix(entryName, ".livp")
	base = strings.TrimSuffix(base, ".LIVP")
	return base + "." + streamKey
}

// livpZipSize computes the byte size of a ZIP archive (local file headers
// + central directory, STORED method, no data descriptors) that would
// contain the named streams:
//
//	Σ(30 + name_len + stream_size + 46 + name_len) + 22
//
// 30 is the local file header size, 46 the central directory record size
// (both excluding the variable-length name), and 22 the end-of-central-
// directory record size.
func livpZipSize(entryName string, streamSizes map[string]uint64) uint64 {
	var total uint64 = 22
	for key, size := range streamSizes {
		nameLen := uint64(len(LivpMemberName(entryName, key)))
		total += 30 + nameLen + size + 46 + nameLen
	}
	return total
}
