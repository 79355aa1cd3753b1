package provider

// Certificate 待上传的证书内容
type Certificate struct {
	Name        string // 证书名称（云平台上的备注名）
	Certificate string // 证书内容 (PEM格式，含证书链)
	PrivateKey  string // 私钥 (PEM格式)
}

// 支持的云平台
const (
	Aliyun  = "aliyun"
	Tencent = "tencent"
	Huawei  = "huawei"
)
