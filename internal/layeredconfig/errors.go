package layeredconfig

import "github.com/ngoclaw/codexcore/internal/apperr"

// Typed write-path errors (§7).
var (
	ErrLayerReadonly     = apperr.New(apperr.CodeConfigManaged, "config layer is read-only")
	ErrVersionConflict   = apperr.New("CONFIG_VERSION_CONFLICT", "user layer version does not match expected_version")
	ErrValidationFailed  = apperr.New("CONFIG_VALIDATION_ERROR", "candidate config failed validation")
	ErrPathNotFound      = apperr.New("CONFIG_PATH_NOT_FOUND", "key path segment not found")
	ErrUserLayerNotFound = apperr.New("USER_LAYER_NOT_FOUND", "user config layer has not been loaded")
)
