// Package config loads the settings of both commands. Flags win over
// environment variables, which win over the .env file. Named regions come
// from an optional YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the validate tags of a config struct
func Validate(cfg interface{}) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// readEnvFile reads path into a map. A missing file is not an error.
func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return env, nil
}

// EnvName maps a flag name to its environment variable: prefix "CROSSCOUNT_"
// and flag "tracker-endpoint" give CROSSCOUNT_TRACKER_ENDPOINT.
func EnvName(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnv sets every flag not given on the command line from its
// environment variable. The process environment wins over fileEnv.
func applyEnv(fset *flag.FlagSet, prefix string, fileEnv map[string]string) error {
	explicit := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	var err error
	fset.VisitAll(func(f *flag.Flag) {
		if err != nil || explicit[f.Name] {
			return
		}
		name := EnvName(prefix, f.Name)
		v, ok := os.LookupEnv(name)
		if !ok {
			v, ok = fileEnv[name]
		}
		if ok {
			if serr := fset.Set(f.Name, v); serr != nil {
				err = fmt.Errorf("%s: %w", name, serr)
			}
		}
	})
	return err
}

// parse runs the flag set, reads the env file named by the env-file flag
// and applies environment overrides.
func parse(fset *flag.FlagSet, envFile *string, prefix string, args []string) error {
	if err := fset.Parse(args); err != nil {
		return err
	}
	fileEnv, err := readEnvFile(*envFile)
	if err != nil {
		return err
	}
	return applyEnv(fset, prefix, fileEnv)
}

// intList is a flag.Value for comma separated integers
type intList []int

func (l *intList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *intList) Set(s string) error {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("invalid integer %q", part)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// size is a flag.Value for WIDTHxHEIGHT
type size struct {
	Width, Height int
}

func (s *size) String() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

func (s *size) Set(v string) error {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", v)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return fmt.Errorf("invalid width in %q", v)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return fmt.Errorf("invalid height in %q", v)
	}
	s.Width, s.Height = width, height
	return nil
}
