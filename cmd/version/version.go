// Package version provides the questd version command.
package version

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

var versionTemplate = template.Must(template.New("version").Parse(`questd
 Version:	{{.Version}}
 Git commit:	{{.GitCommit}}
 Built:		{{.BuildTime}}
 Go version:	{{.GoVersion}}
 OS/Arch:	{{.Os}}/{{.Arch}}`))

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Os        string `json:"os"`
	Arch      string `json:"arch"`
}

// Current collects build and runtime information.
func Current() Info {
	return Info{
		Version:   getVersion(),
		GitCommit: getCommit(),
		BuildTime: getBuildTimeDisplay(),
		GoVersion: runtime.Version(),
		Os:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Render formats i for the terminal.
func (i Info) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := versionTemplate.Execute(&buf, i); err != nil {
		return nil, fmt.Errorf("render version: %w", err)
	}
	return buf.Bytes(), nil
}

func NewVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display the application version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := Current()
			var (
				out []byte
				err error
			)
			if asJSON {
				out, err = json.Marshal(info)
			} else {
				out, err = info.Render()
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print version information as JSON")
	return cmd
}
