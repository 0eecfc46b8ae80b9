package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"vasset/fetch-service/internal/config"
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// DownloadOptions 单次下载参数
type DownloadOptions struct {
	TaskID         string
	URL            string
	FormatSpec     string // "id" 或 "video+audio"
	OutputTemplate string // <dir>/<task_id>.%(ext)s
	AudioOnly      bool
	ConvertToMP3   bool
}

// ProgressFunc 进度回调, 在读取输出的 goroutine 上同步调用
type ProgressFunc func(models.ProgressEvent)

// Executor yt-dlp 执行器
type Executor struct {
	binaryPath          string
	infoTimeout         int
	socketTimeout       int
	retries             int
	fragmentRetries     int
	concurrentFragments int
	mergeFormat         string
	defaultArgs         []string
	logger              *zap.Logger
}

// NewExecutor 创建 yt-dlp 执行器
func NewExecutor(cfg *config.YtDLPConfig, logger *zap.Logger) *Executor {
	return &Executor{
		binaryPath:          cfg.BinaryPath,
		infoTimeout:         cfg.InfoTimeout,
		socketTimeout:       cfg.SocketTimeout,
		retries:             cfg.Retries,
		fragmentRetries:     cfg.FragmentRetries,
		concurrentFragments: cfg.ConcurrentFragments,
		mergeFormat:         cfg.MergeFormat,
		defaultArgs:         cfg.DefaultArgs,
		logger:              logger,
	}
}

// Download 执行下载, 进度通过 onProgress 回调
// 不设置整体超时, 依赖 yt-dlp 自身的 socket 超时与重试
func (e *Executor) Download(ctx context.Context, opts DownloadOptions, onProgress ProgressFunc) error {
	log := e.logger.With(zap.String("task_id", opts.TaskID))

	args := e.buildDownloadArgs(opts)
	log.Info("starting yt-dlp download",
		zap.String("url", opts.URL),
		zap.String("format", opts.FormatSpec),
		zap.String("output", opts.OutputTemplate))
	log.Debug("yt-dlp command", zap.String("binary", e.binaryPath), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, e.binaryPath, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to get stdout pipe: %v", utils.ErrToolInvocationFailed, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to get stderr pipe: %v", utils.ErrToolInvocationFailed, err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", utils.ErrYTDLPNotFound, err)
		}
		return fmt.Errorf("%w: failed to start yt-dlp: %v", utils.ErrToolInvocationFailed, err)
	}

	// 读取错误输出
	var (
		stderrMu  sync.Mutex
		lastError string
		stderrBuf strings.Builder
		wg        sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			log.Debug("yt-dlp stderr", zap.String("line", line))
			stderrMu.Lock()
			stderrBuf.WriteString(line + "\n")
			if strings.HasPrefix(line, "ERROR:") {
				lastError = line
			}
			stderrMu.Unlock()
		}
	}()

	// 解析进度输出
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		event, ok := ParseProgressLine(scanner.Text())
		if ok && onProgress != nil {
			onProgress(*event)
		}
	}

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		stderrMu.Lock()
		msg := lastError
		if msg == "" {
			msg = strings.TrimSpace(stderrBuf.String())
		}
		stderrMu.Unlock()
		if msg == "" {
			msg = err.Error()
		}
		log.Error("yt-dlp failed", zap.Error(err), zap.String("stderr", msg))
		return fmt.Errorf("%w: %s", utils.ErrToolInvocationFailed, msg)
	}

	log.Info("yt-dlp download finished", zap.String("url", opts.URL))
	return nil
}

// buildDownloadArgs 构建下载命令参数
func (e *Executor) buildDownloadArgs(opts DownloadOptions) []string {
	args := []string{
		"--output", opts.OutputTemplate,
		"--newline",
		"--no-playlist",
		"--no-colors",
		"--progress-template", "download:" + progressPrefix + "%(progress)j",
		"--format", opts.FormatSpec,
		"--socket-timeout", strconv.Itoa(e.socketTimeout),
		"--retries", strconv.Itoa(e.retries),
		"--fragment-retries", strconv.Itoa(e.fragmentRetries),
		"--concurrent-fragments", strconv.Itoa(e.concurrentFragments),
	}

	// 后处理: 转 mp3 或封装为统一容器
	switch {
	case opts.ConvertToMP3:
		args = append(args, "--extract-audio", "--audio-format", "mp3", "--audio-quality", "192K")
	case !opts.AudioOnly:
		args = append(args, "--merge-output-format", e.mergeFormat, "--remux-video", e.mergeFormat)
	}

	args = append(args, e.defaultArgs...)
	args = append(args, opts.URL)
	return args
}
