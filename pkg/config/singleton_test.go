package config

import "testing"

func TestInitialize(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	path := writeConfig(t, "engine:\n  tenant_id: acme\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil || cfg.Engine.TenantID != "acme" {
		t.Fatalf("GetConfig() = %+v", cfg)
	}
	if MustGetConfig() != cfg {
		t.Error("MustGetConfig() returned a different instance")
	}
}

func TestReloadConfig_KeepsPreviousOnFailure(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	good := writeConfig(t, "engine:\n  tenant_id: acme\n")
	bad := writeConfig(t, "storage:\n  backend: mongodb\n")

	if err := Initialize(good); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := ReloadConfig(bad); err == nil {
		t.Fatal("expected reload of an invalid file to fail")
	}
	if got := GetConfig().Engine.TenantID; got != "acme" {
		t.Errorf("tenant after failed reload = %q, want acme", got)
	}

	next := writeConfig(t, "engine:\n  tenant_id: globex\n")
	if err := ReloadConfig(next); err != nil {
		t.Fatalf("ReloadConfig() failed: %v", err)
	}
	if got := GetConfig().Engine.TenantID; got != "globex" {
		t.Errorf("tenant after reload = %q, want globex", got)
	}
}

func TestMustGetConfig_PanicsBeforeInitialize(t *testing.T) {
	SetConfig(nil)
	defer func() {
		if recover() == nil {
			t.Error("MustGetConfig() should panic before Initialize")
		}
	}()
	MustGetConfig()
}
