package models

import (
	"path/filepath"
	"strings"
	"time"
)

// AttachmentType classifies an attachment by its file extension.
type AttachmentType string

const (
	AttachmentImage      AttachmentType = "image"
	AttachmentVideo      AttachmentType = "video"
	AttachmentAudio      AttachmentType = "audio"
	AttachmentDocument   AttachmentType = "document"
	AttachmentArchive    AttachmentType = "archive"
	AttachmentCode       AttachmentType = "code"
	AttachmentEbook      AttachmentType = "ebook"
	AttachmentFont       AttachmentType = "font"
	Attachment3DModel    AttachmentType = "3d_model"
	AttachmentExecutable AttachmentType = "executable"
	AttachmentSticker    AttachmentType = "sticker"
)

var extensionTypes = map[string]AttachmentType{
	"jpg": AttachmentImage, "jpeg": AttachmentImage, "png": AttachmentImage,
	"gif": AttachmentImage, "bmp": AttachmentImage, "svg": AttachmentImage,
	"heic": AttachmentImage, "tiff": AttachmentImage,

	"mp4": AttachmentVideo, "mov": AttachmentVideo, "avi": AttachmentVideo,
	"mkv": AttachmentVideo, "webm": AttachmentVideo,

	"mp3": AttachmentAudio, "ogg": AttachmentAudio, "oga": AttachmentAudio,
	"wav": AttachmentAudio, "flac": AttachmentAudio, "m4a": AttachmentAudio,

	"pdf": AttachmentDocument, "doc": AttachmentDocument, "docx": AttachmentDocument,
	"xls": AttachmentDocument, "xlsx": AttachmentDocument, "ppt": AttachmentDocument,
	"pptx": AttachmentDocument, "txt": AttachmentDocument, "md": AttachmentDocument,
	"csv": AttachmentDocument, "rtf": AttachmentDocument,

	"zip": AttachmentArchive, "tar": AttachmentArchive, "gz": AttachmentArchive,
	"bz2": AttachmentArchive, "xz": AttachmentArchive, "rar": AttachmentArchive,
	"7z": AttachmentArchive,

	"go": AttachmentCode, "py": AttachmentCode, "js": AttachmentCode,
	"ts": AttachmentCode, "c": AttachmentCode, "h": AttachmentCode,
	"cpp": AttachmentCode, "rs": AttachmentCode, "java": AttachmentCode,
	"rb": AttachmentCode, "sh": AttachmentCode, "json": AttachmentCode,
	"yaml": AttachmentCode, "yml": AttachmentCode, "toml": AttachmentCode,
	"html": AttachmentCode, "css": AttachmentCode, "sql": AttachmentCode,

	"epub": AttachmentEbook, "mobi": AttachmentEbook, "azw3": AttachmentEbook,

	"ttf": AttachmentFont, "otf": AttachmentFont, "woff": AttachmentFont,
	"woff2": AttachmentFont,

	"obj": Attachment3DModel, "stl": Attachment3DModel, "fbx": Attachment3DModel,
	"gltf": Attachment3DModel, "glb": Attachment3DModel,

	"exe": AttachmentExecutable, "dll": AttachmentExecutable, "so": AttachmentExecutable,
	"dylib": AttachmentExecutable, "apk": AttachmentExecutable,

	"webp": AttachmentSticker, "tgs": AttachmentSticker,
}

// AttachmentTypeForFilename derives the attachment type from a filename's
// extension. Unknown extensions classify as documents.
func AttachmentTypeForFilename(filename string) AttachmentType {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return AttachmentDocument
}

// AttachmentInfo is the cached metadata for one downloaded or uploaded blob.
// The blob lives at <storage>/<type>/<id>/<filename> with a <id>.json sidecar.
type AttachmentInfo struct {
	AttachmentID   string         `json:"attachment_id"`
	AttachmentType AttachmentType `json:"attachment_type"`
	Filename       string         `json:"filename"`
	FileExtension  string         `json:"file_extension,omitempty"`
	Size           int64          `json:"size"`
	ContentType    string         `json:"content_type,omitempty"`
	URL            string         `json:"url,omitempty"`
	Processable    bool           `json:"processable"`
	CreatedAt      time.Time      `json:"created_at"`
	FilePath       string         `json:"file_path,omitempty"`

	// RefCount tracks how many cached messages still reference the blob.
	RefCount int `json:"-"`
}

// AttachmentPayload is the wire shape of an attachment on message payloads.
type AttachmentPayload struct {
	AttachmentID   string         `json:"attachment_id"`
	AttachmentType AttachmentType `json:"attachment_type"`
	Filename       string         `json:"filename,omitempty"`
	FileExtension  string         `json:"file_extension,omitempty"`
	FilePath       string         `json:"file_path,omitempty"`
	Size           int64          `json:"size"`
	Processable    bool           `json:"processable"`
}

// Payload converts the cached metadata into its wire shape.
func (a *AttachmentInfo) Payload() AttachmentPayload {
	if a == nil {
		return AttachmentPayload{}
	}
	return AttachmentPayload{
		AttachmentID:   a.AttachmentID,
		AttachmentType: a.AttachmentType,
		Filename:       a.Filename,
		FileExtension:  a.FileExtension,
		FilePath:       a.FilePath,
		Size:           a.Size,
		Processable:    a.Processable,
	}
}
