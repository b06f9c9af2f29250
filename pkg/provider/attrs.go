package provider

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DatabaseInstanceAttrs describes a managed database server instance.
type DatabaseInstanceAttrs struct {
	Engine   string `mapstructure:"engine" validate:"required,oneof=postgres mysql"`
	Version  string `mapstructure:"version" validate:"required"`
	SizeGB   int    `mapstructure:"size_gb" validate:"omitempty,min=1,max=4096"`
	Region   string `mapstructure:"region"`
	Password string `mapstructure:"password"`
}

// DatabaseAttrs describes a logical database inside an instance.
type DatabaseAttrs struct {
	Name     string `mapstructure:"name" validate:"required,max=63"`
	Owner    string `mapstructure:"owner"`
	Encoding string `mapstructure:"encoding" validate:"omitempty,oneof=UTF8 LATIN1"`
}

// DatabaseUserAttrs describes a database account.
type DatabaseUserAttrs struct {
	Username string   `mapstructure:"username" validate:"required,max=63"`
	Password string   `mapstructure:"password"`
	Grants   []string `mapstructure:"grants" validate:"omitempty,dive,oneof=read write admin"`
}

// StorageBucketAttrs describes an object-storage bucket.
type StorageBucketAttrs struct {
	Name       string `mapstructure:"name" validate:"required,hostname_rfc1123,max=63"`
	Region     string `mapstructure:"region"`
	Versioning bool   `mapstructure:"versioning"`
	Public     bool   `mapstructure:"public"`
}

// ContainerImageAttrs describes a container image in a registry.
type ContainerImageAttrs struct {
	Repository string `mapstructure:"repository" validate:"required"`
	Tag        string `mapstructure:"tag" validate:"required,max=128"`
	Dockerfile string `mapstructure:"dockerfile"`
}

// DeployedServiceAttrs describes a containerized service. A service always
// needs an image to run, a port to listen on, a database to talk to, and a
// bucket for artifacts.
type DeployedServiceAttrs struct {
	Image          string            `mapstructure:"image" validate:"required"`
	Port           int               `mapstructure:"port" validate:"required,min=1,max=65535"`
	Replicas       int               `mapstructure:"replicas" validate:"omitempty,min=1,max=100"`
	DatabaseURL    string            `mapstructure:"database_url" validate:"required"`
	ArtifactBucket string            `mapstructure:"artifact_bucket" validate:"required"`
	Env            map[string]string `mapstructure:"env"`
}

// DecodeAttrs decodes and validates raw attributes against the schema for
// the given kind. Unknown attribute keys and schema violations are permanent
// validation errors.
func DecodeAttrs(kind engine.ResourceKind, attrs engine.Attributes) (interface{}, error) {
	var target interface{}
	switch kind {
	case engine.KindDatabaseInstance:
		target = &DatabaseInstanceAttrs{}
	case engine.KindDatabase:
		target = &DatabaseAttrs{}
	case engine.KindDatabaseUser:
		target = &DatabaseUserAttrs{}
	case engine.KindStorageBucket:
		target = &StorageBucketAttrs{}
	case engine.KindContainerImage:
		target = &ContainerImageAttrs{}
	case engine.KindDeployedService:
		target = &DeployedServiceAttrs{}
	default:
		return nil, engine.NewSpecError(
			fmt.Sprintf("unknown resource kind %q", kind), nil).
			WithCode(engine.ErrCodeValidation)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, engine.NewPermanentError("failed to build attribute decoder", err).
			WithCode(engine.ErrCodeInternal)
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("invalid attributes for kind %q", kind), err).
			WithCode(engine.ErrCodeValidation)
	}

	if err := validate.Struct(target); err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("attribute validation failed for kind %q", kind), err).
			WithCode(engine.ErrCodeValidation)
	}
	return target, nil
}

// ValidateAttrs checks raw attributes against the schema for the given kind.
func ValidateAttrs(kind engine.ResourceKind, attrs engine.Attributes) error {
	_, err := DecodeAttrs(kind, attrs)
	return err
}
