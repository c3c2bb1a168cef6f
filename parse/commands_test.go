package parse

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		line string
		want CommandEntry
		ok   bool
	}{
		{"az vm create -g rg --name x", CommandEntry{"vm create", []string{"-g", "--name"}}, true},
		{"az group list", CommandEntry{"group list", []string{}}, true},
		{"az webapp up # deploy", CommandEntry{"webapp up", []string{}}, true},
		{"az", CommandEntry{}, false},
		{"az --version", CommandEntry{}, false},
		{"kubectl get pods", CommandEntry{}, false},
		{"# az vm list", CommandEntry{}, false},
		{"", CommandEntry{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := Command(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Command(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestCommandListLimit(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "echo skip", "az group list")
	}
	if got := len(CommandList(lines, 0)); got != DefaultMaxCommands {
		t.Errorf("default limit = %d, want %d", got, DefaultMaxCommands)
	}
	if got := len(CommandList(lines, 5)); got != 5 {
		t.Errorf("limit 5 = %d", got)
	}
}

func TestEncodeCommandList(t *testing.T) {
	out, err := EncodeCommandList(nil)
	if err != nil || out != "" {
		t.Fatalf("empty list = %q, %v", out, err)
	}

	out, err = EncodeCommandList([]CommandEntry{{Command: "vm create", Arguments: []string{"-g"}}})
	if err != nil {
		t.Fatal(err)
	}
	var items []string
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("outer array: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}
	var entry CommandEntry
	if err := json.Unmarshal([]byte(items[0]), &entry); err != nil {
		t.Fatalf("inner entry: %v", err)
	}
	if entry.Command != "vm create" || !reflect.DeepEqual(entry.Arguments, []string{"-g"}) {
		t.Errorf("entry = %+v", entry)
	}
}

func TestFormatSample(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"az webapp create -g $resourceGroup -n $appName", "az webapp create -g <resourceGroup> -n <appName>"},
		{"az vm list --all", "az vm list --all"},
		{`az group create --name "my group" --location westus`, `az group create --name "my group" --location westus`},
		{"az", "az"},
	}
	for _, tt := range tests {
		if got := FormatSample(tt.in); got != tt.want {
			t.Errorf("FormatSample(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
