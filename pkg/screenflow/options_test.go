package screenflow_test

import (
	"testing"
	"time"

	"github.com/LiboWorks/screenflow/pkg/screenflow"
)

func TestDefaultOptions(t *testing.T) {
	opts := screenflow.DefaultOptions()

	if opts.ResourcesDir != "" {
		t.Errorf("expected empty ResourcesDir, got %s", opts.ResourcesDir)
	}
	if opts.SettleDelay >= 0 {
		t.Errorf("expected SettleDelay to keep the configured value, got %v", opts.SettleDelay)
	}
	if len(opts.Instances) != 0 {
		t.Errorf("expected no instances, got %d", len(opts.Instances))
	}
}

func TestWithADB(t *testing.T) {
	opts := screenflow.ApplyOptions(screenflow.WithADB("/opt/adb", 250*time.Millisecond))

	if opts.ADBPath != "/opt/adb" {
		t.Errorf("expected ADBPath '/opt/adb', got %s", opts.ADBPath)
	}
	if opts.SettleDelay != 250*time.Millisecond {
		t.Errorf("expected SettleDelay 250ms, got %v", opts.SettleDelay)
	}
}

func TestLearnedBackendOptionsReplaceEachOther(t *testing.T) {
	opts := screenflow.ApplyOptions(
		screenflow.WithOCRWorker("ocr-helper", "--serve"),
		screenflow.WithOpenAI("sk-test", "", "gpt-4o-mini"),
	)
	if len(opts.WorkerCommand) != 0 {
		t.Errorf("expected WithOpenAI to clear the worker command, got %v", opts.WorkerCommand)
	}
	if opts.OpenAIKey != "sk-test" || opts.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("unexpected OpenAI options: %+v", opts)
	}

	opts = screenflow.ApplyOptions(
		screenflow.WithOpenAI("sk-test", "", ""),
		screenflow.WithOCRWorker("ocr-helper"),
	)
	if opts.OpenAIKey != "" {
		t.Error("expected WithOCRWorker to clear the API key")
	}
}

func TestMultipleOptions(t *testing.T) {
	opts := screenflow.ApplyOptions(
		screenflow.WithResources("./resources"),
		screenflow.WithAbortPolicy(screenflow.AbortPolicyProcess),
		screenflow.WithRecords("postgres", "postgres://localhost/screenflow"),
		screenflow.WithInstance(screenflow.Instance{Name: "main", Serial: "emulator-5554", Language: "en"}),
		screenflow.WithInstance(screenflow.Instance{Name: "alt", Serial: "emulator-5556", Language: "en"}),
		screenflow.WithDebugDir("/tmp/debug"),
	)

	if opts.ResourcesDir != "./resources" {
		t.Errorf("expected ResourcesDir './resources', got %s", opts.ResourcesDir)
	}
	if opts.AbortPolicy != "process" {
		t.Errorf("expected AbortPolicy 'process', got %s", opts.AbortPolicy)
	}
	if opts.RecordsDriver != "postgres" {
		t.Errorf("expected RecordsDriver 'postgres', got %s", opts.RecordsDriver)
	}
	if len(opts.Instances) != 2 || opts.Instances[1].Name != "alt" {
		t.Errorf("expected instances main and alt, got %+v", opts.Instances)
	}
	if opts.DebugDir != "/tmp/debug" {
		t.Errorf("expected DebugDir '/tmp/debug', got %s", opts.DebugDir)
	}
}
