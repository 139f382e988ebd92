package excel

import (
	"fmt"

	"github.com/ideamans/go-cadastro"
)

var (
	// ErrMissingFilePath is returned when file path is not specified
	ErrMissingFilePath = fmt.Errorf("%w: file path is required", cadastro.ErrInvalidArgument)

	// ErrSheetNotFound is returned when the requested tab doesn't exist
	ErrSheetNotFound = fmt.Errorf("%w: sheet not found", cadastro.ErrNotFound)

	// ErrInvalidFileFormat is returned when the file is not a valid Excel file
	ErrInvalidFileFormat = fmt.Errorf("%w: invalid Excel file format", cadastro.ErrInvalidArgument)
)
