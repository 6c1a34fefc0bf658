package cli

import (
	"fmt"
	"os"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/desktop/sim"
)

// openDesktop returns the desktop for a backend name. The sim backend
// hosts the XML editor, saving its files under workdir.
func openDesktop(backend, workdir string) (*desktop.Desktop, error) {
	switch backend {
	case "", "sim":
		if workdir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			workdir = wd
		}
		d := sim.New()
		d.Register(sim.XMLEditorPath, sim.NewXMLEditor(workdir, nil))
		return d.Boundary(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q (supported: sim)", core.ErrInvalidConfig, backend)
	}
}
