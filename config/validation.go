package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs the struct tag rules, then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if !filepath.IsAbs(cfg.Host.Root) {
		return fmt.Errorf("host.root: %q must be an absolute path", cfg.Host.Root)
	}
	if cfg.Upload.ChunkSize != 0 && cfg.Upload.ChunkSize < 1024 {
		return fmt.Errorf("upload.chunk_size: %d is below the 1024 byte minimum", cfg.Upload.ChunkSize)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
