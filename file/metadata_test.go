package file

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileTypeFromName(t *testing.T) {
	tests := map[string]FileType{
		"song.mp3":       FileTypeMP3,
		"SONG.MP3":       FileTypeMP3,
		"photo.jpg":      FileTypeJPEG,
		"photo.jpeg":     FileTypeJPEG,
		"notes.txt":      FileTypeText,
		"track.ogg":      FileTypeOGG,
		"book.ape":       FileTypeAudible,
		"archive.tar.gz": FileTypeUnknown,
		"noextension":    FileTypeUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, FileTypeFromName(name), name)
	}
}

func TestDetectFileTypeSniffsContent(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	assert.Equal(t, FileTypePNG, DetectFileType("image", bytes.NewReader(png)))
	assert.Equal(t, FileTypeMP3, DetectFileType("a.mp3", bytes.NewReader(png)), "extension wins")
	assert.Equal(t, FileTypeUnknown, DetectFileType("blob", nil))
	assert.Equal(t, FileTypeText, DetectFileType("README", strings.NewReader("plain words\n")))
}

func TestFileTypeString(t *testing.T) {
	assert.Equal(t, "mp3", FileTypeMP3.String())
	assert.Equal(t, "jpeg", FileTypeJPEG.String())
	assert.Equal(t, "folder", FileTypeFolder.String())
	assert.Equal(t, "unknown", FileTypeUnknown.String())
}

func TestObjectMetadataValidate(t *testing.T) {
	tests := []struct {
		name string
		meta ObjectMetadata
		ok   bool
	}{
		{"valid", ObjectMetadata{Filename: "a.mp3", Size: 10, Type: FileTypeMP3}, true},
		{"zero size", ObjectMetadata{Filename: "empty.txt", Type: FileTypeText}, true},
		{"empty name", ObjectMetadata{Size: 1}, false},
		{"name too long", ObjectMetadata{Filename: strings.Repeat("a", 256)}, false},
		{"slash", ObjectMetadata{Filename: "dir/a.mp3"}, false},
		{"dot dot", ObjectMetadata{Filename: ".."}, false},
		{"dot", ObjectMetadata{Filename: "."}, false},
		{"nul byte", ObjectMetadata{Filename: "a\x00b"}, false},
		{"parent escape", ObjectMetadata{Filename: "../../incoming/session-1.part"}, false},
		{"type out of range", ObjectMetadata{Filename: "a", Type: FileType(200)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			}
		})
	}
}

func TestObjectMetadataObjectInfo(t *testing.T) {
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := ObjectMetadata{Filename: "a.mp3", ParentID: 3, StorageID: 0x10001, Size: 99, Type: FileTypeMP3, ModTime: mtime}
	info := meta.ObjectInfo()
	assert.True(t, mtime.Equal(info.ModTime))
	assert.Equal(t, "a.mp3", info.Filename)
	assert.Equal(t, uint32(3), info.ParentID)
	assert.Equal(t, uint32(0x10001), info.StorageID)
	assert.Equal(t, uint64(99), info.Size)
	assert.Equal(t, uint16(FileTypeMP3), info.Type)
	assert.Zero(t, info.ObjectID)
}
