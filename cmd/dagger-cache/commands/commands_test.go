package commands

import (
	"testing"

	"github.com/urfave/cli/v2"
)

func TestCommandFlagsAreUnique(t *testing.T) {
	t.Parallel()
	for _, cmd := range []*cli.Command{Restore(), Persist(), Cleanup()} {
		seen := map[string]bool{}
		for _, flag := range cmd.Flags {
			for _, name := range flag.Names() {
				if seen[name] {
					t.Fatalf("%s: flag %q defined twice", cmd.Name, name)
				}
				seen[name] = true
			}
		}
		if cmd.Name != "cleanup" && !seen["key"] {
			t.Fatalf("%s: missing key flag", cmd.Name)
		}
	}
}

func TestRestoreRequiresVersion(t *testing.T) {
	t.Setenv("DAGGER_VERSION", "")
	app := &cli.App{Name: "test", Commands: []*cli.Command{Restore()}}
	if err := app.Run([]string{"test", "restore", "--temp-dir", t.TempDir()}); err == nil {
		t.Fatalf("expected missing version error")
	}
}
