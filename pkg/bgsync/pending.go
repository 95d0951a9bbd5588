package bgsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotPending is returned by Get for an unknown tag.
var ErrNotPending = errors.New("sync tag not pending")

// Task is one pending sync tag.
type Task struct {
	Tag        string
	Attempts   int
	Due        time.Time
	Registered time.Time
	LastError  string
}

// Pending persists the queue's tasks. Put replaces the task with the same tag.
type Pending interface {
	Put(ctx context.Context, task Task) error
	Get(ctx context.Context, tag string) (*Task, error)
	Remove(ctx context.Context, tag string) error
	Due(ctx context.Context, now time.Time) ([]Task, error)
	List(ctx context.Context) ([]Task, error)
}

// MemoryPending keeps tasks in process memory.
type MemoryPending struct {
	mu    sync.Mutex
	tasks map[string]Task
}

// NewMemoryPending creates an empty in-memory task store.
func NewMemoryPending() *MemoryPending {
	return &MemoryPending{tasks: make(map[string]Task)}
}

func (m *MemoryPending) Put(_ context.Context, task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.Tag] = task
	return nil
}

func (m *MemoryPending) Get(_ context.Context, tag string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[tag]
	if !ok {
		return nil, ErrNotPending
	}
	return &task, nil
}

func (m *MemoryPending) Remove(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, tag)
	return nil
}

func (m *MemoryPending) Due(_ context.Context, now time.Time) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Task
	for _, task := range m.tasks {
		if !task.Due.After(now) {
			due = append(due, task)
		}
	}
	sortByDue(due)
	return due, nil
}

func (m *MemoryPending) List(_ context.Context) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		all = append(all, task)
	}
	sortByDue(all)
	return all, nil
}

func sortByDue(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Due.Equal(tasks[j].Due) {
			return tasks[i].Tag < tasks[j].Tag
		}
		return tasks[i].Due.Before(tasks[j].Due)
	})
}

// RedisPending persists tasks in Redis so they survive restarts.
//
// Layout:
//
//	<prefix>:due        ZSET tag -> due (unix ms)
//	<prefix>:task:<tag> HASH attempts, registered, last_error
type RedisPending struct {
	client *redis.Client
	prefix string
}

// NewRedisPending creates a Redis-backed task store.
func NewRedisPending(client *redis.Client, prefix string) *RedisPending {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "offline:sync"
	}
	return &RedisPending{client: client, prefix: prefix}
}

func (p *RedisPending) dueKey() string {
	return p.prefix + ":due"
}

func (p *RedisPending) taskKey(tag string) string {
	return p.prefix + ":task:" + tag
}

func (p *RedisPending) Put(ctx context.Context, task Task) error {
	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, p.dueKey(), redis.Z{Score: float64(task.Due.UnixMilli()), Member: task.Tag})
	pipe.HSet(ctx, p.taskKey(task.Tag),
		"attempts", task.Attempts,
		"registered", task.Registered.UnixMilli(),
		"last_error", task.LastError,
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put sync task: %w", err)
	}
	return nil
}

func (p *RedisPending) Get(ctx context.Context, tag string) (*Task, error) {
	score, err := p.client.ZScore(ctx, p.dueKey(), tag).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("redis get sync task: %w", err)
	}
	fields, err := p.client.HGetAll(ctx, p.taskKey(tag)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get sync task: %w", err)
	}
	task := decodeTask(tag, score, fields)
	return &task, nil
}

func (p *RedisPending) Remove(ctx context.Context, tag string) error {
	pipe := p.client.TxPipeline()
	pipe.ZRem(ctx, p.dueKey(), tag)
	pipe.Del(ctx, p.taskKey(tag))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis remove sync task: %w", err)
	}
	return nil
}

func (p *RedisPending) Due(ctx context.Context, now time.Time) ([]Task, error) {
	zs, err := p.client.ZRangeByScoreWithScores(ctx, p.dueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis due sync tasks: %w", err)
	}
	return p.load(ctx, zs)
}

func (p *RedisPending) List(ctx context.Context) ([]Task, error) {
	zs, err := p.client.ZRangeWithScores(ctx, p.dueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sync tasks: %w", err)
	}
	return p.load(ctx, zs)
}

func (p *RedisPending) load(ctx context.Context, zs []redis.Z) ([]Task, error) {
	if len(zs) == 0 {
		return nil, nil
	}
	pipe := p.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(zs))
	for i, z := range zs {
		cmds[i] = pipe.HGetAll(ctx, p.taskKey(z.Member.(string)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis load sync tasks: %w", err)
	}

	tasks := make([]Task, len(zs))
	for i, z := range zs {
		tasks[i] = decodeTask(z.Member.(string), z.Score, cmds[i].Val())
	}
	return tasks, nil
}

func decodeTask(tag string, score float64, fields map[string]string) Task {
	attempts, _ := strconv.Atoi(fields["attempts"])
	registered, _ := strconv.ParseInt(fields["registered"], 10, 64)
	return Task{
		Tag:        tag,
		Attempts:   attempts,
		Due:        time.UnixMilli(int64(score)),
		Registered: time.UnixMilli(registered),
		LastError:  fields["last_error"],
	}
}
