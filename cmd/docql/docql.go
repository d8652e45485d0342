// Command docql is the CLI surface for the embedded document-query
// engine: open a .docql SQLite file, run a query from a file, stdin,
// or an inline flag through the Query Runner, and print the resulting
// rows. Modeled on cmd/sqlite3def's flag parsing and cmd/psqldef's
// password-prompt pattern.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"github.com/k0kubun/pp/v3"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/fleece"
	"github.com/dbsqldef/docql/index"
	"github.com/dbsqldef/docql/keystore"
	"github.com/dbsqldef/docql/query"
	"github.com/dbsqldef/docql/runner"
	"github.com/dbsqldef/docql/util"
)

var version = "dev"

type options struct {
	QueryFile   string `short:"f" long:"file" description:"Read the query from a file, rather than stdin or --query" value-name:"filename"`
	Query       string `short:"q" long:"query" description:"Inline query text (textual dialect unless --json is given)"`
	JSON        bool   `long:"json" description:"Treat the query as JSON-AST rather than the textual dialect"`
	ReadOnly    bool   `long:"read-only" description:"Open the data file read-only"`
	AskPass     bool   `long:"ask-pass" description:"Prompt for a passphrase before opening the file"`
	Debug       bool   `long:"debug" description:"Pretty-print the compiled SQL and parameter bindings before running"`
	IndexConfig string `long:"index-config" description:"Ensure the indexes declared in this YAML file exist before running the query" value-name:"filename"`
	Collection  string `long:"collection" description:"Collection scope.name the index config applies to" default:"_default._default"`
	Help        bool   `long:"help" description:"Show this help"`
	Version     bool   `long:"version" description:"Show this version"`
}

func parseOptions(args []string) (string, *options, *flags.Parser) {
	var opts options
	p := flags.NewParser(&opts, flags.None)
	p.Usage = "[option...] file.docql"
	rest, err := p.ParseArgs(args)
	if err != nil {
		log.Fatal(err)
	}
	if opts.Help {
		p.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "No data file is specified!")
		p.WriteHelp(os.Stderr)
		os.Exit(1)
	}
	if len(rest) > 1 {
		log.Fatalf("multiple data files given: %v", rest)
	}
	return rest[0], &opts, p
}

func main() {
	util.InitSlog()
	path, opts, _ := parseOptions(os.Args[1:])

	if opts.AskPass {
		fmt.Fprint(os.Stderr, "Enter passphrase: ")
		if _, err := term.ReadPassword(int(syscall.Stdin)); err != nil {
			log.Fatal(err)
		}
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "note: this build of docql does not link an encrypted-VFS SQLite build; the passphrase is not used to decrypt anything.")
	}

	df, err := keystore.Open(path, keystore.Options{ReadOnly: opts.ReadOnly, Logger: slog.Default()})
	if err != nil {
		log.Fatalf("opening %s: %v", path, err)
	}
	defer df.Close()

	mgr, err := index.NewManager(df)
	if err != nil {
		log.Fatalf("loading index registry: %v", err)
	}

	if opts.IndexConfig != "" {
		if err := applyIndexConfig(df, mgr, opts); err != nil {
			log.Fatal(err)
		}
	}

	queryText, err := readQueryText(opts)
	if err != nil {
		log.Fatal(err)
	}

	var ast *query.AST
	if opts.JSON {
		ast, err = query.ParseJSON([]byte(queryText))
	} else {
		ast, err = query.ParseText(queryText)
	}
	if err != nil {
		log.Fatalf("parsing query: %v", err)
	}

	compiled, err := query.Translate(ast, mgr)
	if err != nil {
		log.Fatalf("compiling query: %v", err)
	}

	out := colorable.NewColorableStdout()
	colored := isatty.IsTerminal(os.Stdout.Fd())
	if opts.Debug {
		printer := pp.New()
		printer.SetColoringEnabled(colored)
		printer.Fprintln(out, compiled)
	}

	r := runner.New(df)
	enum, err := r.Run(compiled, map[string]fleece.Value{})
	if err != nil {
		log.Fatalf("running query: %v", err)
	}
	defer enum.Close()

	if err := printRows(out, enum); err != nil {
		log.Fatal(err)
	}
}

// applyIndexConfig loads opts.IndexConfig and ensures every index it
// declares exists on opts.Collection (scope.name), creating whichever
// are missing before the query runs.
func applyIndexConfig(df *keystore.DataFile, mgr *index.Manager, opts *options) error {
	cfg, err := index.LoadConfig(opts.IndexConfig)
	if err != nil {
		return err
	}
	scope, name := opts.Collection, "_default"
	if i := strings.IndexByte(opts.Collection, '.'); i >= 0 {
		scope, name = opts.Collection[:i], opts.Collection[i+1:]
	}
	ks, err := keystore.NewKeyStore(df, keystore.CollectionID{Scope: scope, Name: name})
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", opts.Collection, err)
	}
	return cfg.Apply(mgr, ks)
}

func readQueryText(opts *options) (string, error) {
	switch {
	case opts.QueryFile != "":
		b, err := os.ReadFile(opts.QueryFile)
		if err != nil {
			return "", docql.NewError(docql.NotFound, "reading query file", err)
		}
		return string(b), nil
	case opts.Query != "":
		return opts.Query, nil
	default:
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", docql.NewError(docql.NotFound, "reading query from stdin", err)
		}
		return string(b), nil
	}
}

func printRows(w io.Writer, e *runner.Enumerator) error {
	cols := e.Columns()
	for e.Next() {
		row := make(map[string]any, len(cols))
		for i, title := range cols {
			v, err := e.Value(i)
			if err != nil {
				return err
			}
			row[title] = toGo(v)
		}
		b, err := json.Marshal(row)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(b))
	}
	return e.Err()
}

// toGo converts a Binary-Doc Value into plain Go data for JSON
// marshaling, per the CLI's "print rows as JSON" contract.
func toGo(v fleece.Value) any {
	switch v.Type() {
	case fleece.TypeNull:
		return nil
	case fleece.TypeBool:
		return v.AsBool()
	case fleece.TypeInt:
		return v.AsInt()
	case fleece.TypeUnsigned:
		return v.AsUnsigned()
	case fleece.TypeDouble:
		return v.AsDouble()
	case fleece.TypeString:
		return v.AsString()
	case fleece.TypeData:
		return v.AsData()
	case fleece.TypeArray:
		arr, _ := v.AsArray()
		out := make([]any, arr.Count())
		arr.Iter(func(i int, elem fleece.Value) bool {
			out[i] = toGo(elem)
			return true
		})
		return out
	case fleece.TypeDict:
		dict, _ := v.AsDict()
		out := make(map[string]any, dict.Count())
		dict.Iter(func(key string, elem fleece.Value) bool {
			out[key] = toGo(elem)
			return true
		})
		return out
	default:
		if v.IsMissing() {
			return nil
		}
		return nil
	}
}
