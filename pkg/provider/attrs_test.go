package provider

import (
	"testing"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func TestValidateAttrs_DeployedService(t *testing.T) {
	attrs := engine.Attributes{
		"image":           "registry/app:v1",
		"port":            8080,
		"database_url":    "postgres://db:5432/app",
		"artifact_bucket": "artifacts",
	}
	if err := ValidateAttrs(engine.KindDeployedService, attrs); err != nil {
		t.Errorf("expected valid attributes, got: %v", err)
	}
}

func TestValidateAttrs_DeployedService_MissingRequired(t *testing.T) {
	attrs := engine.Attributes{
		"port": 8080,
	}
	err := ValidateAttrs(engine.KindDeployedService, attrs)
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if !engine.IsPermanent(err) {
		t.Errorf("expected permanent error, got: %v", err)
	}
}

func TestValidateAttrs_DeployedService_PortRange(t *testing.T) {
	attrs := engine.Attributes{
		"image":           "registry/app:v1",
		"port":            70000,
		"database_url":    "postgres://db:5432/app",
		"artifact_bucket": "artifacts",
	}
	if err := ValidateAttrs(engine.KindDeployedService, attrs); err == nil {
		t.Fatal("expected error for port out of range")
	}
}

func TestValidateAttrs_UnknownKeyRejected(t *testing.T) {
	attrs := engine.Attributes{
		"engine":  "postgres",
		"version": "16",
		"flavour": "large",
	}
	err := ValidateAttrs(engine.KindDatabaseInstance, attrs)
	if err == nil {
		t.Fatal("expected error for unknown attribute key")
	}
	if e, ok := err.(*engine.Error); !ok || e.Code != engine.ErrCodeValidation {
		t.Errorf("expected code %s, got: %v", engine.ErrCodeValidation, err)
	}
}

func TestValidateAttrs_DatabaseInstance_EngineChoices(t *testing.T) {
	attrs := engine.Attributes{
		"engine":  "oracle",
		"version": "21c",
	}
	if err := ValidateAttrs(engine.KindDatabaseInstance, attrs); err == nil {
		t.Fatal("expected error for unsupported engine")
	}
}

func TestValidateAttrs_UnknownKind(t *testing.T) {
	err := ValidateAttrs(engine.ResourceKind("mainframe"), engine.Attributes{})
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !engine.IsSpec(err) {
		t.Errorf("expected spec error, got: %v", err)
	}
}

func TestDecodeAttrs_DatabaseInstance(t *testing.T) {
	attrs := engine.Attributes{
		"engine":  "postgres",
		"version": "16",
		"size_gb": 50,
	}
	decoded, err := DecodeAttrs(engine.KindDatabaseInstance, attrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	db, ok := decoded.(*DatabaseInstanceAttrs)
	if !ok {
		t.Fatalf("expected *DatabaseInstanceAttrs, got %T", decoded)
	}
	if db.Engine != "postgres" || db.Version != "16" || db.SizeGB != 50 {
		t.Errorf("decoded values wrong: %+v", db)
	}
}

func TestValidateAttrs_StorageBucket_Name(t *testing.T) {
	valid := engine.Attributes{"name": "my-artifacts"}
	if err := ValidateAttrs(engine.KindStorageBucket, valid); err != nil {
		t.Errorf("expected valid bucket name, got: %v", err)
	}

	invalid := engine.Attributes{"name": "Not A Bucket!"}
	if err := ValidateAttrs(engine.KindStorageBucket, invalid); err == nil {
		t.Error("expected error for invalid bucket name")
	}
}
