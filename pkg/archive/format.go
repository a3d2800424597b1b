package archive

import (
	"os"
	"strings"
)

// Format names known to the decompressor registry.
const (
	FormatZip    = "zip"
	FormatTarGz  = "tar.gz"
	FormatTar    = "tar"
	FormatRar    = "rar"
	FormatSevenZ = "7z"
	FormatUnknown = "unknown"
)

var magicPrefixes = []struct {
	format string
	magic  []byte
}{
	{FormatZip, []byte("PK\x03\x04")},
	{FormatZip, []byte("PK\x05\x06")}, // empty zip
	{FormatTarGz, []byte{0x1f, 0x8b}},
	{FormatRar, []byte("Rar!\x1a\x07")},
	{FormatSevenZ, []byte("7z\xbc\xaf\x27\x1c")},
}

// detectFormat identifies an archive format by magic bytes first, then
// falls back to the file extension when the magic bytes are inconclusive.
func detectFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 8)
	n, _ := f.Read(buf)
	buf = buf[:n]

	for _, m := range magicPrefixes {
		if len(buf) >= len(m.magic) && string(buf[:len(m.magic)]) == string(m.magic) {
			return m.format, nil
		}
	}

	// tar has no fixed magic in the first bytes; its "ustar" marker sits
	// at offset 257, so fall through to extension-based detection.
	return detectByExtension(path), nil
}

func detectByExtension(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	case strings.HasSuffix(lower, ".rar"):
		return FormatRar
	case strings.HasSuffix(lower, ".7z"):
		return FormatSevenZ
	default:
		return FormatUnknown
	}
}
