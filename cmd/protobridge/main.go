// protobridge converts protobuf messages between JSON and the binary wire
// format using .proto schemas loaded at run time.
//
// Usage:
//
//	protobridge [global flags] <command> [flags] [file]
//
// Commands:
//
//	encode    JSON messages to protobuf binary
//	decode    protobuf binary to JSON
//	fmt       JSON messages to canonical JSON
//	types     list the registered messages and enums
//	snapshot  write the loaded schema as a registry snapshot
//
// Input is read from the named file or stdin; output goes to stdout.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/anirudhraja/protobridge"
	"github.com/anirudhraja/protobridge/internal/config"
	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/registry"
	"github.com/anirudhraja/protobridge/schema"
)

func main() {
	err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	var uerr *usageError
	if errors.As(err, &uerr) {
		os.Exit(2)
	}
	os.Exit(1)
}

// usageError reports a malformed command line. It exits with status 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// parseFlags is fs.Parse with flag errors reported as usage errors.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return err
	}
	return &usageError{msg: err.Error()}
}

// globalFlags override the corresponding config values when set.
type globalFlags struct {
	configPath string
	protoPaths []string
	protoFiles []string
	snapshot   string
	input      string
	relaxed    bool
	indent     string
	logLevel   string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "YAML config file (default $"+config.EnvVar+")")
	fs.StringSliceVarP(&g.protoPaths, "proto-path", "I", nil, "directory searched for .proto files and imports (repeatable)")
	fs.StringSliceVar(&g.protoFiles, "proto", nil, ".proto file to load (repeatable)")
	fs.StringVar(&g.snapshot, "snapshot", "", "registry snapshot to load")
	fs.StringVar(&g.input, "input", "", "JSON reader: located or streaming")
	fs.BoolVar(&g.relaxed, "relaxed", false, "accept comments and trailing commas in JSON input")
	fs.StringVar(&g.indent, "indent", "", "indent JSON output with this string")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// apply overlays the flags that were set on cfg.
func (g *globalFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("proto-path") {
		cfg.Schema.ProtoPaths = g.protoPaths
	}
	if fs.Changed("proto") {
		cfg.Schema.Files = g.protoFiles
	}
	if fs.Changed("snapshot") {
		cfg.Schema.Snapshot = g.snapshot
	}
	if fs.Changed("input") {
		cfg.Input.Mode = g.input
	}
	if fs.Changed("relaxed") {
		cfg.Input.Relaxed = g.relaxed
	}
	if fs.Changed("indent") {
		cfg.Output.Indent = g.indent
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	return cfg.Validate()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

type command struct {
	summary string
	run     func(env *environment, args []string) error
}

var commands = map[string]command{
	"encode":   {"JSON messages to protobuf binary", runEncode},
	"decode":   {"protobuf binary to JSON", runDecode},
	"fmt":      {"JSON messages to canonical JSON", runFmt},
	"types":    {"list the registered messages and enums", runTypes},
	"snapshot": {"write the loaded schema as a registry snapshot", runSnapshot},
}

var commandOrder = []string{"encode", "decode", "fmt", "types", "snapshot"}

// environment is what a command runs against.
type environment struct {
	bridge *protobridge.Bridge
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var flags globalFlags
	fs := pflag.NewFlagSet("protobridge", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	flags.register(fs)
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		printUsage(stderr, fs)
		return pflag.ErrHelp
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		return usageErrorf("unknown command %q", fs.Arg(0))
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := flags.apply(fs, cfg); err != nil {
		return err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	bridge, err := newBridge(cfg, logger)
	if err != nil {
		return err
	}
	env := &environment{bridge: bridge, logger: logger, stdin: stdin, stdout: stdout, stderr: stderr}
	return cmd.run(env, fs.Args()[1:])
}

// newBridge builds the registry from the snapshot and .proto files in cfg.
func newBridge(cfg *config.Config, logger *slog.Logger) (*protobridge.Bridge, error) {
	reg := registry.NewRegistry(cfg.Schema.ProtoPaths)
	if cfg.Schema.Snapshot != "" {
		f, err := os.Open(cfg.Schema.Snapshot)
		if err != nil {
			return nil, err
		}
		err = reg.ReadSnapshot(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("loading snapshot %s: %w", cfg.Schema.Snapshot, err)
		}
		logger.Debug("loaded snapshot", "path", cfg.Schema.Snapshot, "files", len(reg.Files()))
	}
	for _, file := range cfg.Schema.Files {
		if err := reg.LoadSchemaFromFile(file); err != nil {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
		logger.Debug("loaded schema", "file", file)
	}
	return protobridge.NewWithRegistry(reg, cfg.BridgeOptions(logger)), nil
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: protobridge [global flags] <command> [flags] [file]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nGlobal flags:\n")
	fs.PrintDefaults()
}

type messageFlags struct {
	typeName  string
	delimited bool
}

// parseMessageFlags parses the flags shared by the conversion commands and
// opens the input.
func parseMessageFlags(env *environment, name string, args []string) (*messageFlags, io.ReadCloser, error) {
	var mf messageFlags
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.StringVarP(&mf.typeName, "type", "t", "", "message type name (required)")
	fs.BoolVar(&mf.delimited, "delimited", false, "binary messages are varint length-prefixed")
	if err := parseFlags(fs, args); err != nil {
		return nil, nil, err
	}
	if mf.typeName == "" {
		return nil, nil, usageErrorf("%s: --type is required", name)
	}
	in, err := openInput(env, fs.Args())
	if err != nil {
		return nil, nil, err
	}
	return &mf, in, nil
}

func openInput(env *environment, args []string) (io.ReadCloser, error) {
	switch len(args) {
	case 0:
		return io.NopCloser(env.stdin), nil
	case 1:
		if args[0] == "-" {
			return io.NopCloser(env.stdin), nil
		}
		return os.Open(args[0])
	}
	return nil, usageErrorf("unexpected argument: %s", args[1])
}

func runEncode(env *environment, args []string) error {
	mf, in, err := parseMessageFlags(env, "encode", args)
	if err != nil {
		return err
	}
	defer in.Close()

	out := bufio.NewWriter(env.stdout)
	count := 0
	err = env.bridge.DecodeJSON(in, mf.typeName, func(m *message.Message) error {
		if count > 0 && !mf.delimited {
			return errors.New("encode: more than one message in input; use --delimited")
		}
		count++
		b, err := env.bridge.MarshalBinary(m)
		if err != nil {
			return err
		}
		if mf.delimited {
			if _, err := out.Write(protowire.AppendVarint(nil, uint64(len(b)))); err != nil {
				return err
			}
		}
		_, err = out.Write(b)
		return err
	})
	if err != nil {
		return err
	}
	env.logger.Debug("encoded messages", "type", mf.typeName, "count", count)
	return out.Flush()
}

func runDecode(env *environment, args []string) error {
	mf, in, err := parseMessageFlags(env, "decode", args)
	if err != nil {
		return err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	var msgs []*message.Message
	for len(data) > 0 {
		record := data
		if mf.delimited {
			size, n := protowire.ConsumeVarint(data)
			if n < 0 || uint64(len(data)-n) < size {
				return fmt.Errorf("decode: truncated length prefix after %d messages", len(msgs))
			}
			record = data[n : n+int(size)]
			data = data[n+int(size):]
		} else {
			data = nil
		}
		m, err := env.bridge.UnmarshalBinary(record, mf.typeName)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 && !mf.delimited {
		m, err := env.bridge.UnmarshalBinary(nil, mf.typeName)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	if err := env.bridge.EncodeJSON(env.stdout, msgs...); err != nil {
		return err
	}
	_, err = io.WriteString(env.stdout, "\n")
	return err
}

func runFmt(env *environment, args []string) error {
	mf, in, err := parseMessageFlags(env, "fmt", args)
	if err != nil {
		return err
	}
	defer in.Close()

	var msgs []*message.Message
	err = env.bridge.DecodeJSON(in, mf.typeName, func(m *message.Message) error {
		msgs = append(msgs, m)
		return nil
	})
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := env.bridge.EncodeJSON(env.stdout, msgs...); err != nil {
		return err
	}
	_, err = io.WriteString(env.stdout, "\n")
	return err
}

func runTypes(env *environment, args []string) error {
	var verbose bool
	fs := pflag.NewFlagSet("types", pflag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.BoolVarP(&verbose, "verbose", "v", false, "list the fields of each message")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf("types: unexpected argument: %s", fs.Arg(0))
	}
	reg := env.bridge.Registry()
	w := bufio.NewWriter(env.stdout)
	for _, name := range env.bridge.ListMessages() {
		fmt.Fprintf(w, "message %s\n", name)
		if !verbose {
			continue
		}
		desc, err := reg.GetMessage(name)
		if err != nil {
			return err
		}
		for _, f := range desc.Fields {
			fmt.Fprintf(w, "  %d %s %s %s json=%s\n", f.Number, f.Name, f.Label, typeName(f.Type), f.JsonName)
		}
	}
	for _, name := range env.bridge.ListEnums() {
		fmt.Fprintf(w, "enum %s\n", name)
	}
	return w.Flush()
}

func typeName(t schema.FieldType) string {
	switch t.Kind {
	case schema.KindMessage:
		return t.MessageType
	case schema.KindEnum:
		return t.EnumType
	}
	return string(t.PrimitiveType)
}

func runSnapshot(env *environment, args []string) error {
	var outPath string
	fs := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf("snapshot: unexpected argument: %s", fs.Arg(0))
	}
	if outPath == "" {
		return env.bridge.Registry().WriteSnapshot(env.stdout)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := env.bridge.Registry().WriteSnapshot(f); err != nil {
		f.Close()
		return err
	}
	env.logger.Info("wrote snapshot", "path", outPath, "files", len(env.bridge.Registry().Files()))
	return f.Close()
}
