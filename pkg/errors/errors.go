// Package errors 提供房間服務的應用程式錯誤
//
// 所有錯誤都帶有錯誤碼，errors.Is 以錯誤碼比對，
// 因此包裝後的錯誤仍能被邊界層（HTTP、WebSocket）辨識。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeCapacityExceeded 房間已滿
	ErrCodeCapacityExceeded = "CAPACITY_EXCEEDED"
	// ErrCodeUnknownEngineType 未知的同步引擎類型
	ErrCodeUnknownEngineType = "UNKNOWN_ENGINE_TYPE"
	// ErrCodeEngineNotReady 引擎綁定的玩家不足
	ErrCodeEngineNotReady = "ENGINE_NOT_READY"
	// ErrCodeEngineStopped 引擎已停止且不可重用
	ErrCodeEngineStopped = "ENGINE_STOPPED"
	// ErrCodePlayerNotFound 玩家不存在
	ErrCodePlayerNotFound = "PLAYER_NOT_FOUND"
	// ErrCodeRoomNotFound 房間不存在
	ErrCodeRoomNotFound = "ROOM_NOT_FOUND"
	// ErrCodeRoomExists 房間已存在
	ErrCodeRoomExists = "ROOM_EXISTS"
	// ErrCodeRoomClosed 房間已關閉
	ErrCodeRoomClosed = "ROOM_CLOSED"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeConnClosed 連線已關閉
	ErrCodeConnClosed = "CONN_CLOSED"
	// ErrCodeSendBufferFull 發送緩衝區已滿
	ErrCodeSendBufferFull = "SEND_BUFFER_FULL"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本，預定義錯誤本身不變
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrCapacityExceeded  = New(ErrCodeCapacityExceeded, "room is full")
	ErrUnknownEngineType = New(ErrCodeUnknownEngineType, "unknown engine type")
	ErrEngineNotReady    = New(ErrCodeEngineNotReady, "engine needs both sides bound")
	ErrEngineStopped     = New(ErrCodeEngineStopped, "engine was stopped and cannot be restarted")
	ErrPlayerNotFound    = New(ErrCodePlayerNotFound, "player not found")
	ErrRoomNotFound      = New(ErrCodeRoomNotFound, "room not found")
	ErrRoomExists        = New(ErrCodeRoomExists, "room already exists")
	ErrRoomClosed        = New(ErrCodeRoomClosed, "room is closed")
	ErrInvalidInput      = New(ErrCodeInvalidInput, "invalid input")
	ErrConnClosed        = New(ErrCodeConnClosed, "connection closed")
	ErrSendBufferFull    = New(ErrCodeSendBufferFull, "send buffer full")
)

// Code 取出錯誤碼，非 AppError 返回空字串
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCapacityExceeded 檢查是否為房間已滿錯誤
func IsCapacityExceeded(err error) bool {
	return Code(err) == ErrCodeCapacityExceeded
}

// IsUnknownEngineType 檢查是否為未知引擎類型錯誤
func IsUnknownEngineType(err error) bool {
	return Code(err) == ErrCodeUnknownEngineType
}

// IsNotFound 檢查是否為房間或玩家未找到錯誤
func IsNotFound(err error) bool {
	code := Code(err)
	return code == ErrCodeRoomNotFound || code == ErrCodePlayerNotFound
}

// IsAlreadyExists 檢查是否為房間已存在錯誤
func IsAlreadyExists(err error) bool {
	return Code(err) == ErrCodeRoomExists
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return Code(err) == ErrCodeInvalidInput
}
