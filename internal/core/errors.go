package core

import (
	"errors"
	"fmt"
)

var (
	// ErrChallengeStarted 验证流程已经开始，不能重新开始
	ErrChallengeStarted = errors.New("验证流程已经开始，不能重新开始")
	// ErrNoAuthorizations 颁发机构没有返回任何授权
	ErrNoAuthorizations = errors.New("颁发机构没有返回任何授权")
	// ErrNoArtifacts 没有任何连接器成功放置验证内容
	ErrNoArtifacts = errors.New("没有创建任何验证")
	// ErrNotValid 存在未通过的授权
	ErrNotValid = errors.New("存在未通过验证的域名")
)

// ChallengeError 单个证书处理失败，不影响其它证书
type ChallengeError struct {
	Certificate string
	Phase       string
	Err         error
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("证书 %s %s失败: %v", e.Certificate, e.Phase, e.Err)
}

func (e *ChallengeError) Unwrap() error {
	return e.Err
}

// IsChallengeError 判断是否为证书处理错误
func IsChallengeError(err error) bool {
	var e *ChallengeError
	return errors.As(err, &e)
}
