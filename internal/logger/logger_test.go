package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		level   string
		wantLvl zapcore.Level
		wantErr bool
	}{
		{name: "Console default", format: "console", wantLvl: zapcore.InfoLevel},
		{name: "Empty format falls back to console", format: "", wantLvl: zapcore.InfoLevel},
		{name: "JSON with debug override", format: "json", level: "debug", wantLvl: zapcore.DebugLevel},
		{name: "Warn override", format: "console", level: "warn", wantLvl: zapcore.WarnLevel},
		{name: "Unknown format", format: "xml", wantErr: true},
		{name: "Invalid level", format: "console", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.format, tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !l.Core().Enabled(tt.wantLvl) {
				t.Errorf("Expected level %v to be enabled", tt.wantLvl)
			}
			if tt.wantLvl > zapcore.DebugLevel && l.Core().Enabled(tt.wantLvl-1) {
				t.Errorf("Expected level %v to be disabled", tt.wantLvl-1)
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("Expected a no-op logger, got nil")
	}

	l := zap.NewExample()
	ctx := ContextWithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("Expected the stored logger to be returned")
	}
}
