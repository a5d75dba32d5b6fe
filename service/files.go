package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"financing-wizard/domain"
)

// IncomingFile is a document the applicant picked, before validation.
type IncomingFile struct {
	Name    string
	Content []byte
}

// FileRejection tells the applicant why a file was not staged.
type FileRejection struct {
	Name    string                `json:"name"`
	Kind    domain.ValidationKind `json:"kind"`
	Message string                `json:"message"`
}

// ValidateFile checks size and type. The type is sniffed from the content;
// the extension is not trusted.
func ValidateFile(f IncomingFile) (domain.StagedFile, *FileRejection) {
	name := filepath.Base(f.Name)
	size := int64(len(f.Content))

	if size == 0 {
		return domain.StagedFile{}, &FileRejection{
			Name:    name,
			Kind:    domain.InvalidFileType,
			Message: fmt.Sprintf("El archivo %s está vacío", name),
		}
	}
	if size > MaxFileSizeBytes {
		return domain.StagedFile{}, &FileRejection{
			Name: name,
			Kind: domain.FileTooLarge,
			Message: fmt.Sprintf("El archivo %s excede el tamaño máximo de %d MB (%.1f MB)",
				name, MaxFileSizeBytes/(1024*1024), float64(size)/(1024*1024)),
		}
	}

	detected := mimetype.Detect(f.Content)
	for allowed := range allowedMimeTypes {
		if detected.Is(allowed) {
			return domain.StagedFile{
				Name:      name,
				SizeBytes: size,
				MimeType:  allowed,
				Content:   f.Content,
			}, nil
		}
	}
	return domain.StagedFile{}, &FileRejection{
		Name: name,
		Kind: domain.InvalidFileType,
		Message: fmt.Sprintf("El archivo %s no es un tipo permitido (%s). Solo se aceptan %s",
			name, detected.String(), allowedTypeList()),
	}
}

func allowedTypeList() string {
	// orden fijo para que el mensaje sea estable
	return strings.Join([]string{
		allowedMimeTypes["application/pdf"],
		allowedMimeTypes["image/jpeg"],
		allowedMimeTypes["image/png"],
	}, ", ")
}
