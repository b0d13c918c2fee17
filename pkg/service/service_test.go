package service

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct {
	commands []string
	err      error
}

func (r *recorder) run(name string, args ...string) error {
	r.commands = append(r.commands, strings.Join(append([]string{name}, args...), " "))
	return r.err
}

var testUnit = Unit{
	Name:       "Etekcity Scale BLE Sniffer",
	ExecStart:  "/usr/local/bin/esf37-logger -config /etc/esf37.yaml",
	WorkingDir: "/opt/esf37",
	User:       "pi",
}

func TestFileName(t *testing.T) {
	if name := FileName("Etekcity Scale BLE Sniffer"); name != "etekcity-scale-ble-sniffer.service" {
		t.Fatalf("unexpected unit file name: %s", name)
	}
	if path := New().Path("Etekcity Scale BLE Sniffer"); path != "/lib/systemd/system/etekcity-scale-ble-sniffer.service" {
		t.Fatalf("unexpected unit path: %s", path)
	}
}

func TestRender(t *testing.T) {
	data, err := testUnit.Render()
	if err != nil {
		t.Fatalf("failed to render unit: %s", err)
	}

	for _, line := range []string{
		"Description=Etekcity Scale BLE Sniffer",
		"After=bluetooth.target",
		"ExecStart=/usr/local/bin/esf37-logger -config /etc/esf37.yaml",
		"WorkingDirectory=/opt/esf37",
		"Restart=always",
		"User=pi",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(string(data), line+"\n") {
			t.Fatalf("rendered unit is missing line `%s`:\n%s", line, data)
		}
	}
}

func TestInstallUninstall(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	m := New(WithUnitDir(dir), WithRunner(rec.run))

	if err := m.Install(testUnit, "/usr/local/bin/esf37-logger"); err != nil {
		t.Fatalf("failed to install service: %s", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "etekcity-scale-ble-sniffer.service")); err != nil {
		t.Fatalf("unit file not written: %s", err)
	}

	if err := m.Uninstall(testUnit.Name); err != nil {
		t.Fatalf("failed to uninstall service: %s", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "etekcity-scale-ble-sniffer.service")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unit file not removed: %v", err)
	}

	expected := []string{
		"setcap cap_net_raw,cap_net_admin+eip /usr/local/bin/esf37-logger",
		"systemctl enable etekcity-scale-ble-sniffer.service",
		"systemctl daemon-reload",
		"systemctl start etekcity-scale-ble-sniffer.service",
		"systemctl stop etekcity-scale-ble-sniffer.service",
		"systemctl disable etekcity-scale-ble-sniffer.service",
		"systemctl daemon-reload",
	}
	if len(rec.commands) != len(expected) {
		t.Fatalf("unexpected commands: %v", rec.commands)
	}
	for i := range expected {
		if rec.commands[i] != expected[i] {
			t.Fatalf("unexpected command at position %d: have `%s`, want `%s`", i, rec.commands[i], expected[i])
		}
	}

	// Removing a service that is not installed is not an error
	if err := m.Uninstall(testUnit.Name); err != nil {
		t.Fatalf("failed to uninstall missing service: %s", err)
	}
}

func TestInstallFailures(t *testing.T) {

	// Failing commands are logged only
	rec := &recorder{err: errors.New("command not found")}
	if err := New(WithUnitDir(t.TempDir()), WithRunner(rec.run)).Install(testUnit, ""); err != nil {
		t.Fatalf("failing command unexpectedly returned error: %s", err)
	}
	if len(rec.commands) != 3 {
		t.Fatalf("unexpected commands: %v", rec.commands)
	}

	// Failing to write the unit is returned
	rec = &recorder{}
	if err := New(WithUnitDir(filepath.Join(t.TempDir(), "missing")), WithRunner(rec.run)).Install(testUnit, ""); err == nil {
		t.Fatalf("expected error writing to missing directory")
	}
	if len(rec.commands) != 0 {
		t.Fatalf("unexpected commands after failed write: %v", rec.commands)
	}
}
