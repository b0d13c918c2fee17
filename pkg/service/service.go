// Package service installs / removes the logger as a systemd service
package service

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/fako1024/esf37/pkg/scale"
)

// DefaultUnitDir denotes the directory systemd units are installed to
const DefaultUnitDir = "/lib/systemd/system"

// Capabilities denotes the capabilities required to access the bluetooth
// adapter without root privileges
const Capabilities = "cap_net_raw,cap_net_admin+eip"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description={{ .Name }}
After=bluetooth.target

[Service]
ExecStart={{ .ExecStart }}
WorkingDirectory={{ .WorkingDir }}
StandardOutput=journal
StandardError=journal
Restart=always
User={{ .User }}

[Install]
WantedBy=multi-user.target
`))

// Unit denotes the parameters of a systemd service unit
type Unit struct {
	Name       string
	ExecStart  string
	WorkingDir string
	User       string
}

// FileName returns the file name of the unit (lower-case, spaces replaced by dashes)
func (u Unit) FileName() string {
	return FileName(u.Name)
}

// Render returns the content of the unit file
func (u Unit) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, u); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// FileName returns the unit file name for a service name
func FileName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-") + ".service"
}

// Runner executes an external command
type Runner func(name string, args ...string) error

// Manager denotes a systemd service manager
type Manager struct {
	unitDir string
	run     Runner
	logger  scale.Logger
}

// New instantiates a new Manager, executing functional options, if any
func New(options ...func(*Manager)) *Manager {

	m := &Manager{
		unitDir: DefaultUnitDir,
		run:     execute,
		logger:  &scale.NullLogger{},
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(m)
	}

	return m
}

// WithUnitDir sets the directory units are installed to
func WithUnitDir(dir string) func(*Manager) {
	return func(m *Manager) {
		m.unitDir = dir
	}
}

// WithRunner sets the function used to execute external commands
func WithRunner(run Runner) func(*Manager) {
	return func(m *Manager) {
		m.run = run
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Path returns the full path of the unit file for a service name
func (m *Manager) Path(name string) string {
	return filepath.Join(m.unitDir, FileName(name))
}

// Install grants the binary the required capabilities, writes the unit file and
// enables / starts the service. Only a failure to write the unit is returned, failing
// commands are logged
func (m *Manager) Install(unit Unit, binary string) error {
	if binary != "" {
		m.command("setcap", Capabilities, binary)
	}

	data, err := unit.Render()
	if err != nil {
		return fmt.Errorf("failed to render unit: %w", err)
	}

	path := m.Path(unit.Name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write unit file %s (insufficient privileges?): %w", path, err)
	}
	m.logger.Infof("wrote service unit %s", path)

	m.command("systemctl", "enable", unit.FileName())
	m.command("systemctl", "daemon-reload")
	m.command("systemctl", "start", unit.FileName())

	return nil
}

// Uninstall stops / disables the service and removes its unit file
func (m *Manager) Uninstall(name string) error {
	m.command("systemctl", "stop", FileName(name))
	m.command("systemctl", "disable", FileName(name))

	path := m.Path(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove unit file %s (insufficient privileges?): %w", path, err)
	}
	m.logger.Infof("removed service unit %s", path)

	m.command("systemctl", "daemon-reload")

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (m *Manager) command(name string, args ...string) {
	if err := m.run(name, args...); err != nil {
		m.logger.Errorf("error running `%s %s`: %s", name, strings.Join(args, " "), err)
	}
}

func execute(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w (%s)", err, strings.TrimSpace(string(out)))
	}

	return nil
}
