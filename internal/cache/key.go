package cache

import (
	"crypto/md5"
	"encoding/hex"
)

// FileExtension 是所有缓存文件共享的固定后缀。
const FileExtension = ".mp4"

// Key 根据 Source 计算磁盘文件名：md5(完整 URL) 的小写十六进制 + 固定后缀。
// 结果只依赖输入字符串，跨进程重启保持稳定；哈希碰撞视为可接受风险。
func Key(src Source) string {
	sum := md5.Sum([]byte(src.String()))
	return hex.EncodeToString(sum[:]) + FileExtension
}
