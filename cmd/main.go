package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	forwarddll "github.com/hamflx/forward-dll"
	"github.com/hamflx/forward-dll/pkg/implib"
	"github.com/hamflx/forward-dll/pkg/linker"
)

func main() {
	app := cli.NewApp()
	app.Name = "forward-gen"
	app.Usage = "forwarding DLL generation artifacts"
	app.Description = "reads a target DLL's export table and emits linker export directives and a synthetic import library"
	app.Commands = []*cli.Command{
		{Name: "exports",
			Action:    exports,
			Usage:     "list the export table of a PE image",
			ArgsUsage: "<dll>",
			Args:      true,
		},
		{Name: "directives",
			Action:    directives,
			Usage:     "print /EXPORT forwarder directives for a target",
			ArgsUsage: "<dll>",
			Args:      true,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write directives to a link-args file instead of stdout"},
			},
		},
		{Name: "implib",
			Action:    importLibrary,
			Usage:     "write the synthetic import library for a target",
			ArgsUsage: "<dll> <out.lib>",
			Args:      true,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "machine", Aliases: []string{"m"}, Value: "amd64", Usage: "coff machine type: amd64 or i386"},
			},
		},
		{Name: "generate",
			Action:    generate,
			Usage:     "produce every link-time artifact for a target",
			ArgsUsage: "<dll>",
			Args:      true,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "dev", Usage: "build-time copy used only to read the export table"},
				&cli.StringFlag{Name: "out-dir", Value: ".", Usage: "artifact output directory"},
				&cli.BoolFlag{Name: "ordinal-exact", Usage: "write directives to an intermediate link-args file"},
				&cli.StringFlag{Name: "machine", Aliases: []string{"m"}, Value: "amd64", Usage: "coff machine type: amd64 or i386"},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func target(ctx *cli.Context) (string, error) {
	if ctx.Args().Len() < 1 {
		return "", fmt.Errorf("missing target dll")
	}
	return ctx.Args().First(), nil
}

func machineFlag(ctx *cli.Context) (implib.Machine, error) {
	switch strings.ToLower(ctx.String("machine")) {
	case "amd64", "x64":
		return implib.AMD64, nil
	case "i386", "x86":
		return implib.I386, nil
	}
	return 0, fmt.Errorf("unknown machine %q", ctx.String("machine"))
}

func exports(ctx *cli.Context) error {
	dll, err := target(ctx)
	if err != nil {
		return err
	}
	list, err := forwarddll.ReadExports(dll)
	if err != nil {
		return err
	}
	for _, e := range list {
		name := e.Name
		if name == "" {
			name = "[NONAME]"
		}
		fmt.Printf("%7d  %s\n", e.Ordinal, name)
	}
	return nil
}

func directives(ctx *cli.Context) error {
	dll, err := target(ctx)
	if err != nil {
		return err
	}
	list, err := forwarddll.ReadExports(dll)
	if err != nil {
		return err
	}
	dirs := forwarddll.Directives(dll, list)
	if out := ctx.String("out"); out != "" {
		return forwarddll.WriteLinkArgs(out, dirs)
	}
	for _, d := range dirs {
		fmt.Println(d)
	}
	return nil
}

func importLibrary(ctx *cli.Context) error {
	dll, err := target(ctx)
	if err != nil {
		return err
	}
	if ctx.Args().Len() < 2 {
		return fmt.Errorf("missing output path")
	}
	machine, err := machineFlag(ctx)
	if err != nil {
		return err
	}
	list, err := forwarddll.ReadExports(dll)
	if err != nil {
		return err
	}
	f, err := os.Create(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	defer f.Close()
	return implib.Write(f, linker.FileName(dll), machine, linker.ImportEntries(list))
}

func generate(ctx *cli.Context) error {
	dll, err := target(ctx)
	if err != nil {
		return err
	}
	machine, err := machineFlag(ctx)
	if err != nil {
		return err
	}
	art, err := forwarddll.Generate(forwarddll.Config{
		Target:       dll,
		DevPath:      ctx.String("dev"),
		OrdinalExact: ctx.Bool("ordinal-exact"),
		OutDir:       ctx.String("out-dir"),
		Machine:      machine,
	})
	if err != nil {
		return err
	}
	log.Printf("import library %s", art.ImportLib)
	if art.LinkArgsFile != "" {
		log.Printf("link args %s", art.LinkArgsFile)
		return nil
	}
	for _, d := range art.Directives {
		fmt.Println(d)
	}
	return nil
}
