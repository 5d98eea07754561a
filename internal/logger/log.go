// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"priceest/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init
//
// 애플리케이션 시작 시 한 번만 호출되는 로거 초기화 함수.
// Config 에 따라 '개발자용 화면' 또는 '운영용 JSON 로그'로 형태를 바꾼다.
//
// [주요 기능]
//
//  1. 로그 포맷 전환:
//     - LOG_PRETTY=true : 컬러 텍스트 (가독성 위주)
//     - LOG_PRETTY=false: JSON (수집/검색 위주)
//
//  2. 공통 필드: 모든 로그에 "service", "instance" 가 붙는다.
//
//  3. 샘플링: Debug/Info 는 LOG_SAMPLE_N 개 중 1개만 기록, Warn/Error 는 100% 기록.
//
//  4. 파일 회전: LOG_FILE 이 지정되면 stdout 과 함께 lumberjack 파일에도 기록.
//
// 반환된 io.Closer 는 종료 시 Close 해서 파일 핸들을 정리한다 (파일 미사용 시 no-op).
//
// 사용 예:
//
//	closer := logger.Init(cfg)
//	defer closer.Close()
//	log.Info().Msg("server started")
func Init(cfg config.Config) io.Closer {
	var out io.Writer = os.Stdout
	if cfg.LogPretty {
		// 개발 중엔 날짜 없이 시간만 보여도 충분함
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		// 파일은 항상 JSON. 사람이 보는 용도는 stdout 쪽.
		rot := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rot)
		closer = rot
	}

	logger := New(cfg, out)
	zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel))

	// 전역 Logger 교체. 이후 어디서든 log.Info() 가 이 설정을 따른다.
	zlog.Logger = logger

	// 표준 log 패키지 출력도 zerolog 로 돌린다 (시간은 zerolog 가 찍음).
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)

	return closer
}

// New 는 전역 상태를 건드리지 않고 Init 과 같은 규칙의 Logger 를 만든다.
func New(cfg config.Config, w io.Writer) zerolog.Logger {
	level := parseLevel(cfg.LogLevel)

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN > 1 {
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}

// Component 는 전역 로거에서 component 필드가 붙은 자식 로거를 만든다.
func Component(name string) zerolog.Logger {
	return zlog.Logger.With().Str("component", name).Logger()
}

func parseLevel(s string) zerolog.Level {
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s))); err == nil && s != "" {
		return l
	}
	return zerolog.InfoLevel
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
