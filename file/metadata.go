package file

import (
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/limits"
	"github.com/samber/lo"
)

// ErrDirectoryTraversal indicates an object name that would escape its parent container.
var ErrDirectoryTraversal = limits.ErrDirectoryTraversal

// FileType is the device object type tag. Values follow the libmtp
// enumeration so they can be handed to a device bridge unchanged.
type FileType uint16

const (
	FileTypeFolder FileType = iota
	FileTypeWAV
	FileTypeMP3
	FileTypeWMA
	FileTypeOGG
	FileTypeAudible
	FileTypeMP4
	FileTypeUndefAudio
	FileTypeWMV
	FileTypeAVI
	FileTypeMPEG
	FileTypeASF
	FileTypeQT
	FileTypeUndefVideo
	FileTypeJPEG
	FileTypeJFIF
	FileTypeTIFF
	FileTypeBMP
	FileTypeGIF
	FileTypePICT
	FileTypePNG
	FileTypeVCalendar1
	FileTypeVCalendar2
	FileTypeVCard2
	FileTypeVCard3
	FileTypeWindowsImageFormat
	FileTypeWinExec
	FileTypeText
	FileTypeHTML
	FileTypeFirmware
	FileTypeAAC
	FileTypeMediaCard
	FileTypeFLAC
	FileTypeMP2
	FileTypeM4A
	FileTypeDOC
	FileTypeXML
	FileTypeXLS
	FileTypePPT
	FileTypeMHT
	FileTypeJP2
	FileTypeJPX
	FileTypeAlbum
	FileTypePlaylist
	FileTypeUnknown
)

// FileTypeAuto is the zero value. A folder is never transferred as file data,
// so the manager treats it as "detect the type for me".
const FileTypeAuto = FileTypeFolder

var extensionTypes = map[string]FileType{
	"wav": FileTypeWAV, "mp3": FileTypeMP3, "wma": FileTypeWMA, "ogg": FileTypeOGG,
	"ape": FileTypeAudible, "mp4": FileTypeMP4, "wmv": FileTypeWMV, "avi": FileTypeAVI,
	"mpeg": FileTypeMPEG, "mpg": FileTypeMPEG, "asf": FileTypeASF, "qt": FileTypeQT,
	"jpeg": FileTypeJPEG, "jpg": FileTypeJPEG, "jfif": FileTypeJFIF, "tiff": FileTypeTIFF,
	"tif": FileTypeTIFF, "bmp": FileTypeBMP, "gif": FileTypeGIF, "pict": FileTypePICT,
	"png": FileTypePNG, "text": FileTypeText, "txt": FileTypeText, "html": FileTypeHTML,
	"htm": FileTypeHTML, "aac": FileTypeAAC, "flac": FileTypeFLAC, "mp2": FileTypeMP2,
	"m4a": FileTypeM4A, "doc": FileTypeDOC, "xml": FileTypeXML, "xls": FileTypeXLS,
	"ppt": FileTypePPT, "mht": FileTypeMHT, "jp2": FileTypeJP2, "jpx": FileTypeJPX,
	"ics": FileTypeVCalendar2, "vcf": FileTypeVCard3, "exe": FileTypeWinExec,
	"m3u": FileTypePlaylist,
}

// String returns the lower-case name of the first extension mapped to t.
func (t FileType) String() string {
	switch t {
	case FileTypeFolder:
		return "folder"
	case FileTypeUnknown:
		return "unknown"
	}
	for _, ext := range sortedExtensions {
		if extensionTypes[ext] == t {
			return ext
		}
	}
	return fmt.Sprintf("filetype(%d)", uint16(t))
}

var sortedExtensions = func() []string {
	exts := lo.Keys(extensionTypes)
	slices.Sort(exts)
	return exts
}()

// FileTypeFromName maps a file name's extension to a type tag.
func FileTypeFromName(name string) FileType {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return FileTypeUnknown
}

// DetectFileType uses the extension of name and falls back to sniffing the
// content of r when the extension is not recognized. r may be nil.
func DetectFileType(name string, r io.Reader) FileType {
	if t := FileTypeFromName(name); t != FileTypeUnknown {
		return t
	}
	if r == nil {
		return FileTypeUnknown
	}
	mime, err := mimetype.DetectReader(r)
	if err != nil {
		return FileTypeUnknown
	}
	for m := mime; m != nil; m = m.Parent() {
		if t := FileTypeFromName(m.Extension()); t != FileTypeUnknown {
			return t
		}
	}
	return FileTypeUnknown
}

// ObjectMetadata describes the file to the device.
type ObjectMetadata struct {
	Filename  string `validate:"required,max=255,excludes=/"`
	ParentID  uint32
	StorageID uint32
	// Size is the declared length. The data must match it exactly.
	Size uint64
	Type FileType `validate:"lte=44"`

	// ModTime is the modification date recorded on the device.
	ModTime time.Time
}

var metadataValidator = validator.New()

// Validate rejects metadata a device could not store. Errors wrap ErrInvalidRequest.
func (m ObjectMetadata) Validate() error {
	if err := limits.ValidateObjectName(m.Filename); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := metadataValidator.Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// ObjectInfo converts the metadata to its transport representation.
func (m ObjectMetadata) ObjectInfo() interfaces.ObjectInfo {
	return interfaces.ObjectInfo{
		ParentID:  m.ParentID,
		StorageID: m.StorageID,
		Filename:  m.Filename,
		Size:      m.Size,
		Type:      uint16(m.Type),
		ModTime:   m.ModTime,
	}
}
