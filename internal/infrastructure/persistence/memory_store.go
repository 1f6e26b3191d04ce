package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/pkg/errors"
)

// DefaultArchiveCapacity 内存模式下保留的已归档任务数
const DefaultArchiveCapacity = 1000

// MemoryStore 内存实现的存储（用于开发/测试）
// 五个仓储视图共享同一把锁，CommitReply 因此可以原子地写入消息与任务
type MemoryStore struct {
	mu sync.RWMutex

	conversations map[string]*entity.Conversation
	userIndex     map[string]string // userID → conversationID

	messages     map[string]*entity.Message
	convMessages map[string][]string // 按 seq 排列的消息ID

	tasks      map[string]*entity.GenerationTask
	activeTask map[string]string // conversationID → 活动任务ID

	// 归档任务移出 tasks，只保留最近 archiveCap 个供查询
	archive      map[string]*entity.GenerationTask
	archiveOrder []string
	archiveCap   int

	profiles      map[string]*entity.SystemPromptProfile
	activeProfile string

	forms map[string]*entity.FormSubmission
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*entity.Conversation),
		userIndex:     make(map[string]string),
		messages:      make(map[string]*entity.Message),
		convMessages:  make(map[string][]string),
		tasks:         make(map[string]*entity.GenerationTask),
		activeTask:    make(map[string]string),
		archive:       make(map[string]*entity.GenerationTask),
		archiveCap:    DefaultArchiveCapacity,
		profiles:      make(map[string]*entity.SystemPromptProfile),
		forms:         make(map[string]*entity.FormSubmission),
	}
}

// Conversations 返回会话仓储视图
func (s *MemoryStore) Conversations() repository.ConversationRepository {
	return &memoryConversationRepository{s}
}

// Messages 返回消息仓储视图
func (s *MemoryStore) Messages() repository.MessageRepository {
	return &memoryMessageRepository{s}
}

// Tasks 返回任务仓储视图
func (s *MemoryStore) Tasks() repository.TaskRepository {
	return &memoryTaskRepository{s}
}

// Profiles 返回配置仓储视图
func (s *MemoryStore) Profiles() repository.ProfileRepository {
	return &memoryProfileRepository{s}
}

// Forms 返回表单仓储视图
func (s *MemoryStore) Forms() repository.FormRepository {
	return &memoryFormRepository{s}
}

// appendLocked 分配 seq 并写入，调用方持有写锁
func (s *MemoryStore) appendLocked(message *entity.Message) *entity.Message {
	convID := message.ConversationID()
	appended := message.WithSeq(int64(len(s.convMessages[convID])) + 1)
	s.messages[appended.ID()] = appended
	s.convMessages[convID] = append(s.convMessages[convID], appended.ID())
	return appended
}

// ---------------------------------------------------------------------------
// conversations
// ---------------------------------------------------------------------------

type memoryConversationRepository struct{ s *MemoryStore }

func (r *memoryConversationRepository) FindByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return nil, errors.NewNotFoundError("conversation not found")
	}
	return copyConversation(conv), nil
}

func (r *memoryConversationRepository) FindByUserID(ctx context.Context, userID string) (*entity.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.userIndex[userID]
	if !ok {
		return nil, errors.NewNotFoundError("conversation not found")
	}
	return copyConversation(r.s.conversations[id]), nil
}

func (r *memoryConversationRepository) FindOrCreateByUser(ctx context.Context, userID, newID string) (*entity.Conversation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if id, ok := r.s.userIndex[userID]; ok {
		return copyConversation(r.s.conversations[id]), false, nil
	}
	conv, err := entity.NewConversation(newID, userID)
	if err != nil {
		return nil, false, errors.NewInvalidInputError(err.Error())
	}
	r.s.conversations[conv.ID()] = copyConversation(conv)
	r.s.userIndex[userID] = conv.ID()
	return conv, true, nil
}

func (r *memoryConversationRepository) Save(ctx context.Context, conversation *entity.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if id, ok := r.s.userIndex[conversation.UserID()]; ok && id != conversation.ID() {
		return errors.NewAlreadyExistsError("user already has a conversation")
	}
	r.s.conversations[conversation.ID()] = copyConversation(conversation)
	r.s.userIndex[conversation.UserID()] = conversation.ID()
	return nil
}

func (r *memoryConversationRepository) UpdateScenario(ctx context.Context, id, text, sourceResponseID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return false, errors.NewNotFoundError("conversation not found")
	}
	return conv.SetScenario(text, sourceResponseID), nil
}

func (r *memoryConversationRepository) UpdateAIEnabled(ctx context.Context, id string, enabled bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return errors.NewNotFoundError("conversation not found")
	}
	conv.SetAIEnabled(enabled)
	return nil
}

func copyConversation(c *entity.Conversation) *entity.Conversation {
	return entity.ReconstructConversation(
		c.ID(), c.UserID(), c.ScenarioText(), c.ScenarioSource(),
		c.AIEnabled(), c.Active(),
		c.CreatedAt(), c.UpdatedAt(),
	)
}

// ---------------------------------------------------------------------------
// messages
// ---------------------------------------------------------------------------

type memoryMessageRepository struct{ s *MemoryStore }

func (r *memoryMessageRepository) Append(ctx context.Context, message *entity.Message) (*entity.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.messages[message.ID()]; exists {
		return nil, errors.NewAlreadyExistsError("message already exists")
	}
	return r.s.appendLocked(message), nil
}

func (r *memoryMessageRepository) FindByID(ctx context.Context, id string) (*entity.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	message, ok := r.s.messages[id]
	if !ok {
		return nil, errors.NewNotFoundError("message not found")
	}
	return message, nil
}

func (r *memoryMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := r.s.convMessages[conversationID]
	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*entity.Message{}, nil
	}

	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	out := make([]*entity.Message, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, r.s.messages[id])
	}
	return out, nil
}

func (r *memoryMessageRepository) Recent(ctx context.Context, conversationID string, n int) ([]*entity.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if n <= 0 {
		return []*entity.Message{}, nil
	}
	ids := r.s.convMessages[conversationID]
	start := max(len(ids)-n, 0)

	out := make([]*entity.Message, 0, len(ids)-start)
	for _, id := range ids[start:] {
		out = append(out, r.s.messages[id])
	}
	return out, nil
}

func (r *memoryMessageRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return int64(len(r.s.convMessages[conversationID])), nil
}

// ---------------------------------------------------------------------------
// tasks
// ---------------------------------------------------------------------------

type memoryTaskRepository struct{ s *MemoryStore }

func (r *memoryTaskRepository) CreateIfIdle(ctx context.Context, task *entity.GenerationTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, busy := r.s.activeTask[task.ConversationID()]; busy {
		return errors.NewConflictError("conversation already has an active task", entity.ErrConcurrencyViolation)
	}
	_, live := r.s.tasks[task.ID()]
	_, archived := r.s.archive[task.ID()]
	if live || archived {
		return errors.NewAlreadyExistsError("task already exists")
	}
	r.s.tasks[task.ID()] = task.Clone()
	if task.Status().IsActive() {
		r.s.activeTask[task.ConversationID()] = task.ID()
	}
	return nil
}

func (r *memoryTaskRepository) FindByID(ctx context.Context, id string) (*entity.GenerationTask, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	task, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

func (r *memoryTaskRepository) FindActive(ctx context.Context, conversationID string) (*entity.GenerationTask, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.activeTask[conversationID]
	if !ok {
		return nil, nil
	}
	return r.s.tasks[id].Clone(), nil
}

func (r *memoryTaskRepository) Start(ctx context.Context, id string) (*entity.GenerationTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if task.Status() != entity.TaskPending || task.Cancelled() {
		return nil, entity.ErrTaskNotActive
	}
	if err := task.Start(); err != nil {
		return nil, entity.ErrTaskNotActive
	}
	return task.Clone(), nil
}

func (r *memoryTaskRepository) Cancel(ctx context.Context, id string) (*entity.GenerationTask, entity.TaskStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, err := r.lookup(id)
	if err != nil {
		return nil, "", err
	}
	from := task.Status()
	if task.Cancel() {
		r.release(task)
	}
	return task.Clone(), from, nil
}

func (r *memoryTaskRepository) Fail(ctx context.Context, id, reason string) (*entity.GenerationTask, entity.TaskStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, err := r.lookup(id)
	if err != nil {
		return nil, "", err
	}
	from := task.Status()
	if err := task.Fail(reason); err != nil {
		return nil, from, entity.ErrTaskNotActive
	}
	r.release(task)
	return task.Clone(), from, nil
}

func (r *memoryTaskRepository) CommitReply(ctx context.Context, id string, reply *entity.Message) (*entity.GenerationTask, *entity.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, err := r.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	if err := task.Complete(reply.ID()); err != nil {
		return nil, nil, entity.ErrTaskNotActive
	}
	committed := r.s.appendLocked(reply)
	r.release(task)
	return task.Clone(), committed, nil
}

func (r *memoryTaskRepository) ArchiveTerminal(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, task := range r.s.tasks {
		if !task.Status().IsTerminal() || !task.UpdatedAt().Before(before) {
			continue
		}
		delete(r.s.tasks, id)
		r.s.archive[id] = task
		r.s.archiveOrder = append(r.s.archiveOrder, id)
		n++
	}
	if over := len(r.s.archiveOrder) - r.s.archiveCap; over > 0 {
		for _, id := range r.s.archiveOrder[:over] {
			delete(r.s.archive, id)
		}
		r.s.archiveOrder = append([]string(nil), r.s.archiveOrder[over:]...)
	}
	return n, nil
}

func (r *memoryTaskRepository) CountActive(ctx context.Context, conversationID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, task := range r.s.tasks {
		if task.ConversationID() == conversationID && task.Status().IsActive() {
			n++
		}
	}
	return n, nil
}

func (r *memoryTaskRepository) lookup(id string) (*entity.GenerationTask, error) {
	task, ok := r.s.tasks[id]
	if !ok {
		task, ok = r.s.archive[id]
	}
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("task %s not found", id))
	}
	return task, nil
}

// release 任务终止后释放会话槽位
func (r *memoryTaskRepository) release(task *entity.GenerationTask) {
	if r.s.activeTask[task.ConversationID()] == task.ID() {
		delete(r.s.activeTask, task.ConversationID())
	}
}

// ---------------------------------------------------------------------------
// profiles
// ---------------------------------------------------------------------------

type memoryProfileRepository struct{ s *MemoryStore }

func (r *memoryProfileRepository) Save(ctx context.Context, profile *entity.SystemPromptProfile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, p := range r.s.profiles {
		if id != profile.ID() && p.Name() == profile.Name() {
			return errors.NewAlreadyExistsError("profile name already in use: " + profile.Name())
		}
	}
	r.s.profiles[profile.ID()] = profile.WithActive(false)
	return nil
}

func (r *memoryProfileRepository) FindByID(ctx context.Context, id string) (*entity.SystemPromptProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil, errors.NewNotFoundError("profile not found")
	}
	return p.WithActive(id == r.s.activeProfile), nil
}

func (r *memoryProfileRepository) FindByName(ctx context.Context, name string) (*entity.SystemPromptProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for id, p := range r.s.profiles {
		if p.Name() == name {
			return p.WithActive(id == r.s.activeProfile), nil
		}
	}
	return nil, errors.NewNotFoundError("profile not found")
}

func (r *memoryProfileRepository) List(ctx context.Context) ([]*entity.SystemPromptProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*entity.SystemPromptProfile, 0, len(r.s.profiles))
	for id, p := range r.s.profiles {
		out = append(out, p.WithActive(id == r.s.activeProfile))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (r *memoryProfileRepository) Active(ctx context.Context) (*entity.SystemPromptProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.profiles[r.s.activeProfile]
	if !ok {
		return nil, entity.ErrNoActiveProfile
	}
	return p.WithActive(true), nil
}

func (r *memoryProfileRepository) Activate(ctx context.Context, id string) (*entity.SystemPromptProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil, errors.NewNotFoundError("profile not found")
	}
	r.s.activeProfile = id
	return p.WithActive(true), nil
}

// ---------------------------------------------------------------------------
// forms
// ---------------------------------------------------------------------------

type memoryFormRepository struct{ s *MemoryStore }

func (r *memoryFormRepository) Save(ctx context.Context, form *entity.FormSubmission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.forms[form.ResponseID()]; exists {
		return errors.NewAlreadyExistsError("form submission already stored: " + form.ResponseID())
	}
	r.s.forms[form.ResponseID()] = form
	return nil
}

func (r *memoryFormRepository) FindByResponseID(ctx context.Context, responseID string) (*entity.FormSubmission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	form, ok := r.s.forms[responseID]
	if !ok {
		return nil, errors.NewNotFoundError("form submission not found")
	}
	return form, nil
}

func (r *memoryFormRepository) LatestByUser(ctx context.Context, userID string) (*entity.FormSubmission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *entity.FormSubmission
	for _, form := range r.s.forms {
		if form.UserID() != userID {
			continue
		}
		if latest == nil || form.SubmittedAt().After(latest.SubmittedAt()) {
			latest = form
		}
	}
	if latest == nil {
		return nil, errors.NewNotFoundError("form submission not found")
	}
	return latest, nil
}
