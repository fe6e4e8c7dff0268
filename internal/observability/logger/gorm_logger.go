package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ledgerTables are the money tables; their queries sit on the webhook path
// and use the tighter slow threshold.
var ledgerTables = map[string]struct{}{
	"transactions":   {},
	"commissions":    {},
	"assinaturas":    {},
	"payment_events": {},
}

type GormLoggerConfig struct {
	Level gormlogger.LogLevel
	// SlowThreshold applies to every other table.
	SlowThreshold       time.Duration
	LedgerSlowThreshold time.Duration
}

func GormLoggerConfigFromMillis(slowMs, ledgerSlowMs int) GormLoggerConfig {
	cfg := GormLoggerConfig{
		Level:               gormlogger.Warn,
		SlowThreshold:       200 * time.Millisecond,
		LedgerSlowThreshold: 100 * time.Millisecond,
	}
	if slowMs > 0 {
		cfg.SlowThreshold = time.Duration(slowMs) * time.Millisecond
	}
	if ledgerSlowMs > 0 {
		cfg.LedgerSlowThreshold = time.Duration(ledgerSlowMs) * time.Millisecond
	}
	return cfg
}

// GormLogger writes SQL diagnostics through the context logger, tagged with
// the table a statement touches.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Info {
		FromContext(ctx).Info(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Warn {
		FromContext(ctx).Warn(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Error {
		FromContext(ctx).Error(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

// Trace reports failed and slow statements. Missing rows and duplicate keys
// are how the ledger detects redeliveries, so they stay at debug.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	stmt := describeStatement(sql)
	threshold := l.cfg.SlowThreshold
	if stmt.ledger {
		threshold = l.cfg.LedgerSlowThreshold
	}

	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Bool("ledger", stmt.ledger),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}

	log := FromContext(ctx)
	switch {
	case err != nil && expectedLedgerMiss(err):
		if l.cfg.Level >= gormlogger.Info {
			log.Debug("gorm.query", append(fields, zap.Error(err))...)
		}
	case err != nil && l.cfg.Level >= gormlogger.Error:
		log.Error("gorm.query failed", append(fields, zap.Error(err))...)
	case threshold > 0 && elapsed > threshold && l.cfg.Level >= gormlogger.Warn:
		log.Warn("gorm.query slow", append(fields, zap.Duration("threshold", threshold))...)
	case l.cfg.Level >= gormlogger.Info:
		log.Debug("gorm.query", fields...)
	}
}

// ParamsFilter drops bound values; customer and affiliate ids stay out of the logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func expectedLedgerMiss(err error) bool {
	return errors.Is(err, gormlogger.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
}

type statement struct {
	operation string
	table     string
	ledger    bool
}

// describeStatement picks the verb and the first table named after
// FROM, INTO or UPDATE.
func describeStatement(sql string) statement {
	stmt := statement{operation: "UNKNOWN"}
	tokens := strings.Fields(sql)
	for i, token := range tokens {
		word := strings.ToUpper(strings.Trim(token, "();"))
		switch word {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			if stmt.operation == "UNKNOWN" {
				stmt.operation = word
			}
		}
		if stmt.table != "" {
			continue
		}
		switch word {
		case "FROM", "INTO", "UPDATE":
			if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "(") {
				stmt.table = tableName(tokens[i+1])
			}
		}
	}
	if stmt.table == "" {
		stmt.table = "unknown"
	}
	_, stmt.ledger = ledgerTables[stmt.table]
	return stmt
}

func tableName(token string) string {
	token = strings.Trim(token, "();,")
	if idx := strings.LastIndex(token, "."); idx >= 0 {
		token = token[idx+1:]
	}
	return strings.ToLower(strings.Trim(token, "\"`"))
}

var _ gormlogger.Interface = (*GormLogger)(nil)
