package store

import (
	"fmt"

	"github.com/DrSui/code-engine/pkg/models"
)

func errCannotCancel(status models.RunStatus) error {
	return fmt.Errorf("cannot cancel run in status %q", status)
}
