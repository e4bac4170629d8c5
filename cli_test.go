package main

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// mockApp records the Applicator calls the CLI dispatches.
type mockApp struct {
	calls []string

	cfgPath    string
	name       string
	link       string
	tenantName string
	full       bool
}

func (m *mockApp) Serve(ctx context.Context, cfgPath string) error {
	m.calls = append(m.calls, "serve")
	m.cfgPath = cfgPath
	return nil
}

func (m *mockApp) Register(ctx context.Context, cfgPath, name, link string) error {
	m.calls = append(m.calls, "register")
	m.cfgPath, m.name, m.link = cfgPath, name, link
	return nil
}

func (m *mockApp) Sync(ctx context.Context, cfgPath, tenantName string, full bool) error {
	m.calls = append(m.calls, "sync")
	m.cfgPath, m.tenantName, m.full = cfgPath, tenantName, full
	return nil
}

func (m *mockApp) Summary(ctx context.Context, cfgPath, tenantName string) error {
	m.calls = append(m.calls, "summary")
	m.cfgPath, m.tenantName = cfgPath, tenantName
	return nil
}

func TestBuildCLI(t *testing.T) {

	tests := []struct {
		name      string
		args      []string
		wantCalls []string
		wantErr   bool
		check     func(t *testing.T, m *mockApp)
	}{
		{
			name:      "serve with default config",
			args:      []string{"gradation", "serve"},
			wantCalls: []string{"serve"},
			check: func(t *testing.T, m *mockApp) {
				if m.cfgPath != "config.yaml" {
					t.Errorf("expected default config path, got %q", m.cfgPath)
				}
			},
		},
		{
			name:      "register",
			args:      []string{"gradation", "register", "--name", "acme", "--link", "https://acme.example.com/rest/1/t"},
			wantCalls: []string{"register"},
			check: func(t *testing.T, m *mockApp) {
				if m.name != "acme" || m.link != "https://acme.example.com/rest/1/t" {
					t.Errorf("unexpected register args: %q %q", m.name, m.link)
				}
			},
		},
		{
			name:    "register requires link",
			args:    []string{"gradation", "register", "--name", "acme"},
			wantErr: true,
		},
		{
			name:      "incremental sync",
			args:      []string{"gradation", "sync", "-c", "alt.yaml", "--tenant", "acme"},
			wantCalls: []string{"sync"},
			check: func(t *testing.T, m *mockApp) {
				if m.cfgPath != "alt.yaml" || m.tenantName != "acme" || m.full {
					t.Errorf("unexpected sync args: %q %q full=%t", m.cfgPath, m.tenantName, m.full)
				}
			},
		},
		{
			name:      "full sync",
			args:      []string{"gradation", "sync", "--tenant", "acme", "--full"},
			wantCalls: []string{"sync"},
			check: func(t *testing.T, m *mockApp) {
				if !m.full {
					t.Error("expected a full sync")
				}
			},
		},
		{
			name:    "sync requires tenant",
			args:    []string{"gradation", "sync"},
			wantErr: true,
		},
		{
			name:      "summary",
			args:      []string{"gradation", "summary", "-t", "acme"},
			wantCalls: []string{"summary"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockApp{}
			cmd := BuildCLI(m)

			err := cmd.Run(context.Background(), tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected run error: %v", err)
			}
			if diff := cmp.Diff(tt.wantCalls, m.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}
