package main

import (
	"errors"

	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/models"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// 本地联调用的基础数据：司机、商户与一个测试客户。订单只能经由状态机产生，这里不预置。
var seedUsers = []models.User{
	{Phone: "5511900000001", Name: "Carlos Motoboy", Role: constants.UserRoleDriver},
	{Phone: "5511900000002", Name: "Joana Entregas", Role: constants.UserRoleDriver},
	{Phone: "5511900000003", Name: "Rafael Bike", Role: constants.UserRoleDriver},
	{Phone: "5511900000100", Name: "Padaria Central", Role: constants.UserRoleMerchant},
	{Phone: "5511900000200", Name: "Cliente Teste", Role: constants.UserRoleCustomer},
}

func main() {
	_ = godotenv.Load()

	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	created := 0
	for _, user := range seedUsers {
		var existing models.User
		err := models.DB.Where("phone = ?", user.Phone).First(&existing).Error
		if err == nil {
			stdLog.Printf("User already exists: %s (%s)", user.Phone, existing.Role)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			stdLog.Printf("Failed to lookup user %s: %v", user.Phone, err)
			continue
		}
		if err := models.DB.Create(&user).Error; err != nil {
			stdLog.Printf("Failed to create user %s: %v", user.Phone, err)
			continue
		}
		created++
		stdLog.Printf("Created %s: %s id=%d", user.Role, user.Name, user.ID)
	}

	stdLog.Printf("Seed finished, %d users created", created)
}
