package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/batch"
	"github.com/fpang/lynx-studio/internal/cli"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/usage"
)

type tools struct {
	proc   batch.Processor
	usage  usage.Store
	model  enhance.ProviderModel
	outDir string
}

// EnhanceInput is the enhance_image argument object.
type EnhanceInput struct {
	ImagePath     string   `json:"image_path" jsonschema:"absolute path of the image to process"`
	Operations    []string `json:"operations,omitempty" jsonschema:"operations such as general, restore, colorize, upscale, edit, variation; default general"`
	Prompt        string   `json:"prompt,omitempty" jsonschema:"custom instruction, required for edit"`
	Negative      string   `json:"negative,omitempty" jsonschema:"things to avoid"`
	ReferencePath string   `json:"reference_path,omitempty" jsonschema:"optional reference image path"`
	MaskPath      string   `json:"mask_path,omitempty" jsonschema:"optional mask image path, white marks editable pixels"`
	Size          string   `json:"size,omitempty" jsonschema:"auto, a ratio like 16:9, or WIDTHxHEIGHT"`
	Count         int      `json:"count,omitempty" jsonschema:"number of variations, 1 to 5"`
	Model         string   `json:"model,omitempty" jsonschema:"provider model id"`
}

// GenerateInput is the generate_image argument object.
type GenerateInput struct {
	Prompt        string `json:"prompt" jsonschema:"what to generate"`
	Negative      string `json:"negative,omitempty" jsonschema:"things to avoid"`
	ReferencePath string `json:"reference_path,omitempty" jsonschema:"optional reference image path"`
	Size          string `json:"size,omitempty" jsonschema:"auto, a ratio like 16:9, or WIDTHxHEIGHT"`
	Count         int    `json:"count,omitempty" jsonschema:"number of images, 1 to 5"`
	Model         string `json:"model,omitempty" jsonschema:"provider model id"`
}

// ImageOutput lists written files.
type ImageOutput struct {
	Files       []string `json:"files"`
	Instruction string   `json:"instruction,omitempty"`
	Failures    int      `json:"failures,omitempty"`
}

type UsageInput struct{}

type UsageOutput struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

func (t *tools) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "enhance_image",
		Description: "Enhance, restore, edit, or create variations of an image file",
	}, t.enhanceImage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_image",
		Description: "Generate images from a text prompt, optionally guided by a reference image",
	}, t.generateImage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "daily_usage",
		Description: "Report today's successful generation count",
	}, t.dailyUsage)
}

func (t *tools) enhanceImage(ctx context.Context, _ *mcp.CallToolRequest, in EnhanceInput) (*mcp.CallToolResult, ImageOutput, error) {
	if in.ImagePath == "" {
		return nil, ImageOutput{}, errors.New("image_path is required")
	}
	if len(in.Operations) == 0 {
		in.Operations = []string{string(enhance.OpGeneral)}
	}
	ops, err := enhance.ParseOperations(in.Operations)
	if err != nil {
		return nil, ImageOutput{}, toolError(err)
	}
	req, err := t.request(ops, in.Prompt, in.Negative, in.Size, in.Count, in.Model)
	if err != nil {
		return nil, ImageOutput{}, toolError(err)
	}
	if req.SourceImage, err = cli.LoadImage(in.ImagePath); err != nil {
		return nil, ImageOutput{}, toolError(err)
	}
	if err := loadOptional(&req.ReferenceImage, in.ReferencePath); err != nil {
		return nil, ImageOutput{}, toolError(err)
	}
	if err := loadOptional(&req.MaskImage, in.MaskPath); err != nil {
		return nil, ImageOutput{}, toolError(err)
	}
	return t.process(ctx, req, cli.OutputPrefix(in.ImagePath, "lynx"))
}

func (t *tools) generateImage(ctx context.Context, _ *mcp.CallToolRequest, in GenerateInput) (*mcp.CallToolResult, ImageOutput, error) {
	req, err := t.request([]enhance.OperationType{enhance.OpGenerate}, in.Prompt, in.Negative, in.Size, in.Count, in.Model)
	if err != nil {
		return nil, ImageOutput{}, toolError(err)
	}
	if err := loadOptional(&req.ReferenceImage, in.ReferencePath); err != nil {
		return nil, ImageOutput{}, toolError(err)
	}
	return t.process(ctx, req, "generated")
}

func (t *tools) dailyUsage(ctx context.Context, _ *mcp.CallToolRequest, _ UsageInput) (*mcp.CallToolResult, UsageOutput, error) {
	n, err := t.usage.Read(ctx)
	if err != nil {
		return nil, UsageOutput{}, toolError(err)
	}
	return nil, UsageOutput{Date: usage.Today(nil), Count: n}, nil
}

func (t *tools) request(ops []enhance.OperationType, prompt, negative, size string, count int, model string) (*enhance.Request, error) {
	sz, err := enhance.ParseSizePolicy(size)
	if err != nil {
		return nil, err
	}
	m := t.model
	if model != "" {
		m = enhance.ProviderModel(model)
	}
	return &enhance.Request{
		Operations:          ops,
		CustomInstruction:   prompt,
		NegativeInstruction: negative,
		Size:                sz,
		VariantCount:        count,
		Model:               m,
	}, nil
}

func (t *tools) process(ctx context.Context, req *enhance.Request, prefix string) (*mcp.CallToolResult, ImageOutput, error) {
	res, err := t.proc.Process(ctx, req, nil, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Tool request failed")
		return nil, ImageOutput{}, toolError(err)
	}
	files, err := cli.SaveImages(t.outDir, prefix, res.Images)
	if err != nil {
		return nil, ImageOutput{}, err
	}
	out := ImageOutput{Files: files, Instruction: res.Instruction}
	for _, a := range res.Attempts {
		if !a.Succeeded() {
			out.Failures++
		}
	}
	return nil, out, nil
}

func loadOptional(dst *string, path string) error {
	if path == "" {
		return nil
	}
	uri, err := cli.LoadImage(filepath.Clean(path))
	if err != nil {
		return err
	}
	*dst = uri
	return nil
}

// toolError reduces err to the message shown to the model.
func toolError(err error) error {
	return errors.New(apperr.UserMessage(err))
}
