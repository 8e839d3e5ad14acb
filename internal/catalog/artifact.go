package catalog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/verdantlabs/leafid/pkg/utils"
)

// ErrMalformedArtifact reports an unparseable catalog artifact. The caller is
// expected to degrade to an empty catalog, not abort.
var ErrMalformedArtifact = errors.New("malformed catalog artifact")

// Artifact layout (little-endian): magic "LFC1", uint16 version, uint16
// dimension, uint32 count; then per entry: four length-prefixed strings
// (id, name, secondary name, digest; length 0 = absent) followed by
// dimension float32s.
var artifactMagic = [4]byte{'L', 'F', 'C', '1'}

const artifactVersion = 1

// Load deserializes a bundled artifact. It fails fast: any parse error, a
// duplicate id, or an entry disagreeing on dimension returns
// ErrMalformedArtifact and no partial catalog.
func Load(artifact []byte) (*Catalog, error) {
	r := bytes.NewReader(artifact)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: read magic: %v", ErrMalformedArtifact, err)
	}
	if magic != artifactMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformedArtifact, magic)
	}
	var version, dim uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: read version: %v", ErrMalformedArtifact, err)
	}
	if version != artifactVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedArtifact, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("%w: read dimension: %v", ErrMalformedArtifact, err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrMalformedArtifact)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: read count: %v", ErrMalformedArtifact, err)
	}

	cat := &Catalog{
		dimensions: int(dim),
		entries:    make([]*ReferenceEmbedding, 0, count),
		byID:       make(map[string]*ReferenceEmbedding, count),
	}
	vecBuf := make([]byte, int(dim)*4)
	for i := uint32(0); i < count; i++ {
		id, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d id: %v", ErrMalformedArtifact, i, err)
		}
		if id == "" {
			return nil, fmt.Errorf("%w: entry %d has empty id", ErrMalformedArtifact, i)
		}
		if _, dup := cat.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrMalformedArtifact, id)
		}
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q name: %v", ErrMalformedArtifact, id, err)
		}
		secondary, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q secondary name: %v", ErrMalformedArtifact, id, err)
		}
		digest, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q digest: %v", ErrMalformedArtifact, id, err)
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return nil, fmt.Errorf("%w: entry %q vector: %v", ErrMalformedArtifact, id, err)
		}
		e := &ReferenceEmbedding{
			ID:            id,
			Name:          name,
			SecondaryName: secondary,
			Vector:        utils.BytesToFloat32s(vecBuf),
			ContentDigest: digest,
		}
		cat.entries = append(cat.entries, e)
		cat.byID[id] = e
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedArtifact, r.Len())
	}
	return cat, nil
}

// Encode serializes entries into the artifact format. Used by the offline
// catalog builder and by tests; every entry's vector must have the given
// dimension.
func Encode(dimensions int, entries []*ReferenceEmbedding) ([]byte, error) {
	if dimensions <= 0 || dimensions > 0xFFFF {
		return nil, fmt.Errorf("invalid dimension %d", dimensions)
	}
	var buf bytes.Buffer
	buf.Write(artifactMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint16(artifactVersion))
	binary.Write(&buf, binary.LittleEndian, uint16(dimensions))
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	for _, e := range entries {
		if len(e.Vector) != dimensions {
			return nil, fmt.Errorf("entry %q has dimension %d, want %d", e.ID, len(e.Vector), dimensions)
		}
		for _, s := range []string{e.ID, e.Name, e.SecondaryName, e.ContentDigest} {
			if err := writeString(&buf, s); err != nil {
				return nil, err
			}
		}
		buf.Write(utils.Float32sToBytes(e.Vector))
	}
	return buf.Bytes(), nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
	return nil
}
