package livesync

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	// 重试参数：固定 3 次、固定 1 秒间隔。低竞争场景下
	// 刻意不做指数退避和抖动，保持行为简单可预测。
	defaultMaxAttempts = 3
	defaultRetryDelay  = 1000 * time.Millisecond
)

// ExhaustedError 表示变更操作在达到重试上限后仍然失败。
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retrier 以固定间隔、有限次数执行一个变更操作。
//
// 契约：
// - 操作必须是意图幂等的（例如"给帖子 X 点一次赞"）。
// - 所有失败一视同仁地重试到上限，不区分可重试/永久失败；
//   这是对既有行为的刻意保留（见 DESIGN.md），唯一例外是协作取消：
//   ctx 结束时立即返回 ctx 的错误，既不继续尝试也不包装成 ExhaustedError。
// - 最后一次尝试仍失败时返回 *ExhaustedError，携带末次错误与总尝试次数。
type Retrier struct {
	MaxAttempts int
	Delay       time.Duration
	Logger      *log.Logger

	// sleep 可注入，测试里用它断言等待次数与时长。
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(maxAttempts int, delay time.Duration, logger *log.Logger) *Retrier {
	return &Retrier{MaxAttempts: maxAttempts, Delay: delay, Logger: logger}
}

// Do 执行 op，失败则等待固定间隔后重试，直到成功或尝试次数耗尽。
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	delay := r.Delay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		// 失败发生在 ctx 结束之后时按取消处理，不计入重试。
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = err

		if attempt == maxAttempts {
			break
		}
		logger.Printf("[Retrier] attempt %d/%d failed, retrying in %v: %v", attempt, maxAttempts, delay, err)
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Err: last}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
