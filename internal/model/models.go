package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskType 采集任务的目标内容类型。
type TaskType string

const (
	TaskTypePosts    TaskType = "posts"
	TaskTypeComments TaskType = "comments"
	TaskTypeProfiles TaskType = "profiles"
	TaskTypeGroups   TaskType = "groups"
)

// Valid reports whether t is one of the four collection kinds.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypePosts, TaskTypeComments, TaskTypeProfiles, TaskTypeGroups:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a CollectionTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// DataType is the kind of a harvested item.
type DataType string

const (
	DataTypePost    DataType = "post"
	DataTypeComment DataType = "comment"
	DataTypeProfile DataType = "profile"
	DataTypeGroup   DataType = "group"
)

func (t DataType) Valid() bool {
	switch t {
	case DataTypePost, DataTypeComment, DataTypeProfile, DataTypeGroup:
		return true
	}
	return false
}

// DataStatus is the processing state of a harvested item. It only moves forward.
type DataStatus string

const (
	DataCollected  DataStatus = "collected"
	DataProcessing DataStatus = "processing"
	DataAnalyzed   DataStatus = "analyzed"
)

// Rank orders data statuses; -1 for unknown values.
func (s DataStatus) Rank() int {
	switch s {
	case DataCollected:
		return 0
	case DataProcessing:
		return 1
	case DataAnalyzed:
		return 2
	}
	return -1
}

// CollectionTask 表示一个用户声明的采集任务。
//
// progress 只在 running 状态下单调递增；progress = 100 当且仅当 status = completed，
// 此时 CompletedAt 非空。
type CollectionTask struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name          string     `gorm:"type:varchar(255);not null" json:"name"`
	Type          TaskType   `gorm:"type:varchar(16);not null;index" json:"type"`
	Status        TaskStatus `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	TargetCount   int        `gorm:"not null" json:"targetCount"` // 期望采集条数
	Keywords      string     `gorm:"type:text" json:"keywords"`   // 关键词过滤（可为空）
	TimeRange     int        `gorm:"not null" json:"timeRange"`   // 回溯天数
	IncludeImages bool       `json:"includeImages"`
	IncludeVideos bool       `json:"includeVideos"`
	Progress      int        `gorm:"not null;default:0" json:"progress"` // 0-100

	CompletedAt   *time.Time `json:"completedAt"`
	FailureReason string     `gorm:"type:text" json:"failureReason,omitempty"` // 仅 failed 状态
}

func (CollectionTask) TableName() string {
	return "collection_tasks"
}

// Author is the origin-reported author of an item.
type Author struct {
	Name      string `json:"name"`
	Followers int64  `json:"followers"`
	Avatar    string `json:"avatar,omitempty"`
}

// Interactions holds engagement counters, each >= 0.
type Interactions struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

// CollectedData 表示采集到的一条内容，归属于唯一的 CollectionTask。
//
// CreatedAt 为入库时间，PublishTime 为来源报告的发布时间，两者之间没有先后保证。
type CollectedData struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`

	TaskID       uint                             `gorm:"not null;index" json:"taskId"`
	ExternalID   string                           `gorm:"type:varchar(128);index" json:"externalId,omitempty"` // Graph 对象 ID
	Type         DataType                         `gorm:"type:varchar(16);not null;index" json:"type"`
	Content      string                           `gorm:"type:text" json:"content"`
	Author       datatypes.JSONType[Author]       `json:"author"`
	AuthorName   string                           `gorm:"type:varchar(255);index" json:"-"` // 检索用冗余列
	PublishTime  *time.Time                       `json:"publishTime"`
	Interactions datatypes.JSONType[Interactions] `json:"interactions"`
	Status       DataStatus                       `gorm:"type:varchar(16);not null;default:collected;index" json:"status"`
	Metadata     datatypes.JSONMap                `json:"metadata"`
}

func (CollectedData) TableName() string {
	return "collected_data"
}

// BeforeSave keeps the searchable author column in step with the JSON author.
func (d *CollectedData) BeforeSave(tx *gorm.DB) error {
	d.AuthorName = d.Author.Data().Name
	return nil
}

// SystemStats 汇总任务与数据的实时统计。
//
// TotalCollected / ActiveTasks / TodayCollected 每次都从当前行重新计算，
// CPUUsage / MemoryUsage / NetworkStatus 仅供展示。
type SystemStats struct {
	TotalCollected int64  `json:"totalCollected"`
	ActiveTasks    int64  `json:"activeTasks"`
	SuccessRate    string `json:"successRate"`
	TodayCollected int64  `json:"todayCollected"`
	CPUUsage       string `json:"cpuUsage"`
	MemoryUsage    string `json:"memoryUsage"`
	NetworkStatus  string `json:"networkStatus"`
}
