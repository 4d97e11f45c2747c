package commands

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/entityroutes/internal/config"
)

// execute runs the root command with args in an empty working directory
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	oldWd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "entityroutes" {
		t.Errorf("expected Use to be 'entityroutes', got %s", cmd.Use)
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("expected descriptions to be set")
	}

	for _, expected := range []string{"version", "serve", "routes", "mapping", "migrate"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected command %s to be registered", expected)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	Version = "1.0.0-test"
	GitCommit = "abc123"
	t.Cleanup(func() {
		Version = "dev"
		GitCommit = "unknown"
	})

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "1.0.0-test") || !strings.Contains(out, "abc123") {
		t.Errorf("expected version info in output, got:\n%s", out)
	}
}

func TestRoutesCommand(t *testing.T) {
	out, err := execute(t, "routes")
	if err != nil {
		t.Fatalf("routes failed: %v", err)
	}

	for _, expected := range []string{
		"METHOD",
		"/api/user/{id}/articles/{subId}",
		"User.articles",
		"unlink",
	} {
		if !strings.Contains(out, expected) {
			t.Errorf("expected %q in output:\n%s", expected, out)
		}
	}
}

func TestRoutesCommand_JSONFiltered(t *testing.T) {
	out, err := execute(t, "routes", "--entity", "role", "--method", "get", "--format", "json")
	if err != nil {
		t.Fatalf("routes failed: %v", err)
	}

	routes := gjson.Parse(out).Array()
	if len(routes) == 0 {
		t.Fatalf("expected routes, got:\n%s", out)
	}
	for _, route := range routes {
		if route.Get("entity").String() != "Role" || route.Get("method").String() != "GET" {
			t.Errorf("filter let through %s", route.Raw)
		}
	}
}

func TestRoutesCommand_UnknownFormat(t *testing.T) {
	if _, err := execute(t, "routes", "--format", "xml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestMappingCommand(t *testing.T) {
	out, err := execute(t, "mapping", "User", "details")
	if err != nil {
		t.Fatalf("mapping failed: %v", err)
	}

	if got := gjson.Get(out, "name").String(); got != "String" {
		t.Errorf("expected name to be a String, got %q in:\n%s", got, out)
	}
	if got := gjson.Get(out, "identifier").String(); got != "Computed" {
		t.Errorf("expected the computed identifier, got %q", got)
	}
	if got := gjson.Get(out, "role.category.name").String(); got != "String" {
		t.Errorf("expected the role category on details, got %q", got)
	}
}

func TestMappingCommand_YAML(t *testing.T) {
	out, err := execute(t, "mapping", "User", "list", "--format", "yaml")
	if err != nil {
		t.Fatalf("mapping failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid YAML output: %v\n%s", err, out)
	}
	role, ok := decoded["role"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a nested role, got %#v", decoded["role"])
	}
	if _, ok := role["category"]; ok {
		t.Error("role category is only exposed on user details")
	}
}

func TestMappingCommand_UnknownEntity(t *testing.T) {
	_, err := execute(t, "mapping", "Usr", "details")

	var formatted *FormattedError
	if !errors.As(err, &formatted) {
		t.Fatalf("expected a FormattedError, got %v", err)
	}
	if !strings.Contains(formatted.Text, "Did you mean: User?") {
		t.Errorf("expected a suggestion, got:\n%s", formatted.Text)
	}
}

func TestMappingCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"UnknownOperation", []string{"mapping", "User", "patch"}},
		{"MissingArgs", []string{"mapping", "User"}},
		{"UnknownFormat", []string{"mapping", "User", "list", "--format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("expected an error for %v", tt.args)
			}
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	out, err := execute(t, "routes", "--config", "missing.yml")
	if err == nil {
		t.Fatalf("expected a config error, got output:\n%s", out)
	}

	var formatted *FormattedError
	if !errors.As(err, &formatted) || !strings.Contains(formatted.Text, "CONFIGURATION ERROR") {
		t.Errorf("expected a formatted configuration error, got %v", err)
	}
}

func TestOpenDatabase(t *testing.T) {
	if _, err := openDatabase(configFor("pgx", "")); err == nil {
		t.Error("expected an error without database url")
	}

	db, err := openDatabase(configFor("sqlite3", ":memory:"))
	if err != nil {
		t.Fatalf("openDatabase failed: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func configFor(driver, url string) config.DatabaseConfig {
	return config.DatabaseConfig{Driver: driver, URL: url}
}

func TestMigrateCommand(t *testing.T) {
	t.Setenv("ENTITYROUTES_DATABASE_DRIVER", "sqlite3")
	t.Setenv("ENTITYROUTES_DATABASE_URL", "file:"+t.TempDir()+"/blog.db?_foreign_keys=on")
	t.Setenv("ENTITYROUTES_LOG_LEVEL", "error")

	out, err := execute(t, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status failed: %v", err)
	}
	if !strings.Contains(out, "pending") || !strings.Contains(out, "create_blog_tables") {
		t.Errorf("expected a pending blog migration, got:\n%s", out)
	}

	out, err = execute(t, "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	if !strings.Contains(out, "Applied 1 migration(s)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status failed: %v", err)
	}
	if !strings.Contains(out, "(1 applied, 0 pending)") {
		t.Errorf("expected the migration to be applied, got:\n%s", out)
	}

	if _, err := execute(t, "migrate", "down"); err != nil {
		t.Fatalf("migrate down failed: %v", err)
	}
	if _, err := execute(t, "migrate", "down"); err == nil {
		t.Error("expected an error with nothing to roll back")
	}
}
