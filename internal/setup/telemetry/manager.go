// Package telemetry builds the zap loggers of a process and manages its log sessions.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/cherryfeed/cherry/internal/setup/telemetry/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceType represents the kind of process being initialized.
type ServiceType int

const (
	ServiceAPI ServiceType = iota
	ServiceWorker
	ServiceCLI
)

// String returns the component name of the service.
func (s ServiceType) String() string {
	switch s {
	case ServiceAPI:
		return "api"
	case ServiceWorker:
		return "worker"
	case ServiceCLI:
		return "cli"
	default:
		return "unknown"
	}
}

const sessionLayout = "2006-01-02_15-04-05"

// Manager creates one timestamped session directory per process run under
// the log directory and opens every log file of the run inside it.
type Manager struct {
	instanceID    string
	componentName string
	logDir        string
	level         string
	maxLogsToKeep int
	maxLogLines   int
	console       bool

	mu         sync.Mutex
	sessionDir string
	files      []*logger.Rotator
}

// NewManager creates a log manager. The suffix distinguishes processes of the
// same service type, such as the worker pool and the ingester.
func NewManager(serviceType ServiceType, logDir string, debugCfg *config.Debug, suffix string) *Manager {
	componentName := serviceType.String()
	if suffix != "" {
		componentName += "_" + suffix
	}

	return &Manager{
		instanceID:    uuid.New().String(),
		componentName: componentName,
		logDir:        logDir,
		level:         debugCfg.LogLevel,
		maxLogsToKeep: debugCfg.MaxLogsToKeep,
		maxLogLines:   debugCfg.MaxLogLines,
		console:       debugCfg.Console,
	}
}

// GetLoggers initializes the main and database loggers of the session.
func (lm *Manager) GetLoggers() (*zap.Logger, *zap.Logger, error) {
	if err := lm.setupLogDirectories(); err != nil {
		return nil, nil, err
	}

	mainLogger, err := lm.newLogger(lm.componentName + ".log")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize main logger: %w", err)
	}

	dbLogger, err := lm.newLogger("database.log")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database logger: %w", err)
	}

	fields := []zap.Field{zap.String("instanceID", lm.instanceID), zap.String("component", lm.componentName)}

	return mainLogger.With(fields...), dbLogger.With(fields...), nil
}

// GetWorkerLogger creates a logger with its own file in the session directory.
func (lm *Manager) GetWorkerLogger(name string) *zap.Logger {
	log, err := lm.newLogger(name + ".log")
	if err != nil {
		return zap.NewNop()
	}
	return log.With(zap.String("instanceID", lm.instanceID))
}

// GetInstanceID returns the identifier of this process run.
func (lm *Manager) GetInstanceID() string {
	return lm.instanceID
}

// GetCurrentSessionDir returns the session directory, creating it when needed.
func (lm *Manager) GetCurrentSessionDir() string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	return lm.sessionDirLocked()
}

// Close syncs and closes every log file opened by the manager.
func (lm *Manager) Close() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, file := range lm.files {
		_ = file.Sync()
		_ = file.Close()
	}
	lm.files = nil
}

// setupLogDirectories rotates old sessions and starts a new one.
func (lm *Manager) setupLogDirectories() error {
	if err := os.MkdirAll(lm.logDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	if err := lm.rotateLogSessions(); err != nil {
		return fmt.Errorf("failed to rotate log sessions: %w", err)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	dir := filepath.Join(lm.logDir, time.Now().Format(sessionLayout)+"_"+lm.componentName)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	lm.sessionDir = dir

	return nil
}

func (lm *Manager) sessionDirLocked() string {
	if lm.sessionDir != "" {
		return lm.sessionDir
	}

	dir := filepath.Join(lm.logDir, time.Now().Format(sessionLayout)+"_"+lm.componentName)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return lm.logDir
	}
	lm.sessionDir = dir

	return dir
}

// newLogger tees a console-encoded file core with an optional stderr core.
func (lm *Manager) newLogger(fileName string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lm.level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	lm.mu.Lock()
	path := filepath.Join(lm.sessionDirLocked(), fileName)
	file, err := logger.Open(path, lm.maxLogLines)
	if err == nil {
		lm.files = append(lm.files, file)
	}
	lm.mu.Unlock()

	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(file), level)}
	if lm.console {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	return zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

// rotateLogSessions removes the oldest sessions beyond maxLogsToKeep,
// leaving room for the session about to be created.
func (lm *Manager) rotateLogSessions() error {
	entries, err := os.ReadDir(lm.logDir)
	if err != nil {
		return err
	}

	type session struct {
		path    string
		modTime time.Time
	}

	var sessions []session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, session{path: filepath.Join(lm.logDir, entry.Name()), modTime: info.ModTime()})
	}

	keep := max(lm.maxLogsToKeep-1, 0)
	if len(sessions) <= keep {
		return nil
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].modTime.Before(sessions[j].modTime)
	})

	for _, s := range sessions[:len(sessions)-keep] {
		if err := os.RemoveAll(s.path); err != nil {
			return err
		}
	}

	return nil
}
