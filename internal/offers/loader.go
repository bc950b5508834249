package offers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/connector/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error codes reported by the loader.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"

	ErrCodeOfferRules     = "E101" // offer without rules or with an unknown pattern
	ErrCodeMissingField   = "E102"
	ErrCodeOperand        = "E103"
	ErrCodeArtifactData   = "E104"
	ErrCodeRepresentation = "E105"
)

// Result holds everything a catalog directory declares.
type Result struct {
	Offers    []ir.Contract
	Resources []ir.Resource
	Artifacts []ir.Artifact
	FileCount int
}

// LoadError is a loader error with an error code and CUE position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads the CUE package in dir and compiles its offers and
// resources. With LoadModeCollectAll every broken entry is reported.
func LoadDir(dir string, mode LoadMode) (*Result, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing catalog directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}
	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result, errs := Compile(value, dir, mode)
	if result != nil {
		result.FileCount = len(files)
	}
	return result, errs
}

// Compile extracts the offer and resource structs of an already built
// value.
func Compile(value cue.Value, dir string, mode LoadMode) (*Result, []error) {
	result := &Result{}
	var errs []error

	each := func(section string, fn func(label string, v cue.Value) error) bool {
		entries := value.LookupPath(cue.ParsePath(section))
		if !entries.Exists() {
			return true
		}
		iter, err := entries.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", section, err)})
			return mode != LoadModeFailFast
		}
		for iter.Next() {
			if err := fn(iter.Label(), iter.Value()); err != nil {
				errs = append(errs, convertCompileError(err, section+"."+iter.Label()))
				if mode == LoadModeFailFast {
					return false
				}
			}
		}
		return true
	}

	ok := each("offer", func(_ string, v cue.Value) error {
		offer, err := CompileOffer(v)
		if err != nil {
			return err
		}
		result.Offers = append(result.Offers, *offer)
		return nil
	})
	if !ok {
		return result, errs
	}
	each("resource", func(_ string, v cue.Value) error {
		res, artifacts, err := CompileResource(v, dir)
		if err != nil {
			return err
		}
		result.Resources = append(result.Resources, *res)
		result.Artifacts = append(result.Artifacts, artifacts...)
		return nil
	})

	if len(result.Offers) == 0 && len(result.Resources) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no offers or resources found"})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func convertCompileError(err error, where string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", where, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%s: %v", where, err)}
}

// MapFieldToErrorCode maps a compile error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "permission":
		return ErrCodeOfferRules
	case "id", "target", "action", "title", "left", "op":
		return ErrCodeMissingField
	case "right":
		return ErrCodeOperand
	case "file", "artifact":
		return ErrCodeArtifactData
	case "representation":
		return ErrCodeRepresentation
	default:
		return ErrCodeGeneric
	}
}

// Importer persists catalog entries. *store.Store satisfies it.
type Importer interface {
	SaveOffer(ctx context.Context, offer ir.Contract) error
	SaveResource(ctx context.Context, r ir.Resource) error
	SaveArtifact(ctx context.Context, a ir.Artifact) error
}

// Import saves resources before their artifacts, then the offers.
func Import(ctx context.Context, dst Importer, result *Result) error {
	for _, r := range result.Resources {
		if err := dst.SaveResource(ctx, r); err != nil {
			return fmt.Errorf("save resource %s: %w", r.ID, err)
		}
	}
	for _, a := range result.Artifacts {
		if err := dst.SaveArtifact(ctx, a); err != nil {
			return fmt.Errorf("save artifact %s: %w", a.ID, err)
		}
	}
	for _, o := range result.Offers {
		if err := dst.SaveOffer(ctx, o); err != nil {
			return fmt.Errorf("save offer %s: %w", o.ID, err)
		}
	}
	return nil
}
