// Package main provides the hl7convert command line tool. It converts a single
// consent form PDF into an ORU^R01 message file, the offline counterpart of
// the intake API.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/medihost/hl7-intake/internal/consent"
	"github.com/medihost/hl7-intake/internal/document"
	hl7 "github.com/medihost/hl7-intake/internal/hl7/v24"
)

// Exit codes form the CLI contract for wrapping scripts.
const (
	exitOK         = 0
	exitUsage      = 1
	exitInputMiss  = 2
	exitConversion = 3
	exitWrite      = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("hl7convert", flag.ContinueOnError)
	sendApp := fs.String("sending-app", "", "override MSH-3 sending application")
	sendFac := fs.String("sending-facility", "", "override MSH-4 sending facility")
	recvApp := fs.String("receiving-app", "", "override MSH-5 receiving application")
	recvFac := fs.String("receiving-facility", "", "override MSH-6 receiving facility")
	title := fs.String("title", "", "override the OBR document title")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: hl7convert [flags] <consent-form.pdf> [output.hl7]\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return exitUsage
	}
	inputPath := fs.Arg(0)

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if _, err := os.Stat(inputPath); err != nil {
		logger.Error("input document not found", zap.String("path", inputPath), zap.Error(err))
		return exitInputMiss
	}

	opts := hl7.DefaultOptions()
	if *sendApp != "" {
		opts.SendingApplication = *sendApp
	}
	if *sendFac != "" {
		opts.SendingFacility = *sendFac
	}
	if *recvApp != "" {
		opts.ReceivingApplication = *recvApp
	}
	if *recvFac != "" {
		opts.ReceivingFacility = *recvFac
	}
	if *title != "" {
		opts.DocumentTitle = *title
	}

	outcome := consent.ExtractDocument(document.PDFProvider{}, inputPath)
	for _, w := range outcome.Warnings {
		logger.Warn("extraction warning", zap.String("warning", w))
	}

	content, err := document.ReadAll(inputPath)
	if err != nil {
		logger.Error("read document failed", zap.Error(err))
		return exitConversion
	}

	builder := hl7.NewBuilder(opts)
	message, err := builder.Build(&outcome.Record, content)
	if err != nil {
		logger.Error("message build failed", zap.Error(err))
		return exitConversion
	}

	outPath := outputPath(inputPath, fs.Arg(1))
	if err := os.WriteFile(outPath, []byte(message), 0o644); err != nil {
		logger.Error("write failed", zap.String("path", outPath), zap.Error(err))
		return exitWrite
	}

	logger.Info("message written",
		zap.String("path", outPath),
		zap.String("message_control_id", hl7.ControlID(message)),
		zap.Bool("extraction_ok", outcome.Success),
		zap.Int("warnings", len(outcome.Warnings)))

	return exitOK
}

// outputPath names the message file: an explicit second argument wins,
// otherwise the input path with its extension swapped for .hl7.
func outputPath(input, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".hl7"
}
