package provider

import "context"

// CertUploader 把签发的证书上传到云平台证书服务
type CertUploader interface {
	// Name 返回提供商名称
	Name() string

	// UploadCertificate 上传证书，返回云平台上的证书ID
	UploadCertificate(ctx context.Context, cert *Certificate) (string, error)
}
